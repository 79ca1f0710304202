package hardware

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/address-table-v1.json
var addressTableSchemaJSON string

//go:embed tables/amc.json
var builtinAMCTable []byte

// BuiltinTable is the address table name that resolves to the embedded AMC map.
const BuiltinTable = "builtin:amc"

type AccessType string

const (
	AccessReadOnly  AccessType = "read_only"
	AccessReadWrite AccessType = "read_write"
)

type RegisterKind string

const (
	KindRegister RegisterKind = "register"
	KindFIFO     RegisterKind = "fifo"
)

type AddressTable struct {
	Info      AddressTableInfo `json:"address_table"`
	Registers []Register       `json:"registers"`

	byName map[string]*Register
}

type AddressTableInfo struct {
	ID          string `json:"id"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

type Register struct {
	Name        string       `json:"name"`
	Address     uint16       `json:"address"`
	Words       int          `json:"words"`
	Mask        uint64       `json:"mask"`
	Access      AccessType   `json:"access"`
	Kind        RegisterKind `json:"type"`
	Depth       int          `json:"depth"`
	Description string       `json:"description"`
}

// FullMask returns the mask covering every bit of the register's words.
func (r *Register) FullMask() uint64 {
	if r.Words >= 4 {
		return ^uint64(0)
	}
	return uint64(1)<<(16*uint(r.Words)) - 1
}

// Shift is the bit offset of the field inside the register.
func (r *Register) Shift() uint {
	return uint(bits.TrailingZeros64(r.Mask))
}

// Lookup finds a register by name.
func (t *AddressTable) Lookup(name string) (*Register, error) {
	reg, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	return reg, nil
}

func (t *AddressTable) index() error {
	t.byName = make(map[string]*Register, len(t.Registers))
	for i := range t.Registers {
		reg := &t.Registers[i]
		if _, dup := t.byName[reg.Name]; dup {
			return fmt.Errorf("duplicate register %s", reg.Name)
		}
		if reg.Words == 0 {
			reg.Words = 2
		}
		if reg.Kind == "" {
			reg.Kind = KindRegister
		}
		if reg.Mask == 0 {
			reg.Mask = reg.FullMask()
		}
		if reg.Mask&^reg.FullMask() != 0 {
			return fmt.Errorf("register %s: mask 0x%x wider than %d words", reg.Name, reg.Mask, reg.Words)
		}
		t.byName[reg.Name] = reg
	}
	return nil
}

type tableValidator struct {
	schema *jsonschema.Schema
}

func newTableValidator() (*tableValidator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("address-table-v1.json",
		strings.NewReader(addressTableSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("address-table-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &tableValidator{schema: schema}, nil
}

func (v *tableValidator) validate(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// TableLoader resolves address table names against search paths and caches
// the parsed result.
type TableLoader struct {
	cache       sync.Map
	validator   *tableValidator
	searchPaths []string
}

func NewTableLoader(searchPaths []string) (*TableLoader, error) {
	validator, err := newTableValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &TableLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load returns the table called name. Names are looked up as
// <searchPath>/<name>.json; BuiltinTable and "" resolve to the embedded map.
func (l *TableLoader) Load(name string) (*AddressTable, error) {
	if name == "" {
		name = BuiltinTable
	}

	if cached, ok := l.cache.Load(name); ok {
		return cached.(*AddressTable), nil
	}

	data, source, err := l.read(name)
	if err != nil {
		return nil, err
	}

	table, err := l.parse(data)
	if err != nil {
		return nil, fmt.Errorf("address table %s: %w", source, err)
	}

	l.cache.Store(name, table)
	return table, nil
}

func (l *TableLoader) read(name string) ([]byte, string, error) {
	if name == BuiltinTable {
		return builtinAMCTable, BuiltinTable, nil
	}

	for _, searchPath := range l.searchPaths {
		fullPath := filepath.Join(searchPath, name+".json")
		data, err := os.ReadFile(fullPath)
		if err == nil {
			return data, fullPath, nil
		}
	}

	return nil, "", fmt.Errorf("address table not found: %s (searched in: %v)", name, l.searchPaths)
}

func (l *TableLoader) parse(data []byte) (*AddressTable, error) {
	if err := l.validator.validate(data); err != nil {
		return nil, err
	}

	var table AddressTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to unmarshal address table: %w", err)
	}

	if err := table.index(); err != nil {
		return nil, err
	}
	return &table, nil
}

func (l *TableLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
