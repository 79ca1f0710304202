// Command cratectl drives the crate manager over gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/KevinKickass/CrateManager/internal/api/grpcapi"
)

const usage = `usage: cratectl [flags] <command> [args]

commands:
  login                      print an access token (needs --user and --password)
  status                     print the crate status
  command <name>             run a lifecycle command (initialize, configure, start,
                             pause, resume, stop, halt, reset)
  fields <slot>              print the configuration namespace of a slot
  fifo <slot>                dump the tracking FIFO of a slot
  watch                      stream status updates until interrupted

flags:
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "cratectl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("cratectl", pflag.ContinueOnError)
	addr := flags.String("addr", "localhost:50051", "gRPC address of the crate manager")
	token := flags.String("token", os.Getenv("CRATE_TOKEN"), "access token (default $CRATE_TOKEN)")
	user := flags.StringP("user", "u", "", "username for login")
	password := flags.StringP("password", "p", os.Getenv("CRATE_PASSWORD"), "password for login (default $CRATE_PASSWORD)")
	timeout := flags.Duration("timeout", 30*time.Second, "timeout for unary calls")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return err
	}
	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return errors.New("missing command")
	}

	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if *token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(grpcapi.TokenCredentials(*token)))
	}
	conn, err := grpc.NewClient(*addr, opts...)
	if err != nil {
		return fmt.Errorf("connect %s: %w", *addr, err)
	}
	defer conn.Close()
	client := grpcapi.NewClient(conn)

	if rest[0] == "watch" {
		return watch(client, out)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch rest[0] {
	case "login":
		if *user == "" || *password == "" {
			return errors.New("login needs --user and --password")
		}
		tok, err := client.Login(ctx, *user, *password)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, tok)
		return nil

	case "status":
		st, err := client.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, st)

	case "command":
		if len(rest) != 2 {
			return errors.New("usage: cratectl command <name>")
		}
		res, err := client.Command(ctx, rest[1])
		if err != nil {
			return err
		}
		return printJSON(out, res)

	case "fields":
		slot, err := slotArg(rest)
		if err != nil {
			return err
		}
		res, err := client.Fields(ctx, slot)
		if err != nil {
			return err
		}
		return printJSON(out, res)

	case "fifo":
		slot, err := slotArg(rest)
		if err != nil {
			return err
		}
		words, err := client.DumpFIFO(ctx, slot)
		if err != nil {
			return err
		}
		for i, w := range words {
			fmt.Fprintf(out, "%2d  0x%08x\n", i, w)
		}
		return nil

	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func watch(client *grpcapi.Client, out io.Writer) error {
	stream, err := client.WatchStatus(context.Background())
	if err != nil {
		return err
	}
	for {
		st, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s  %s\n",
			time.Now().Format(time.TimeOnly),
			st.GetFields()["state"].GetStringValue())
	}
}

func slotArg(args []string) (int, error) {
	if len(args) != 2 {
		return 0, fmt.Errorf("usage: cratectl %s <slot>", args[0])
	}
	slot, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("invalid slot %q", args[1])
	}
	return slot, nil
}

func printJSON(out io.Writer, m proto.Message) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
