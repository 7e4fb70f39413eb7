// Command upperecho-client sends one sentence to an upperecho server and
// prints the reply. The sentence is the joined arguments, or one line read
// from stdin when there are none.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyberinferno/upperecho/echoclient"
	"github.com/cyberinferno/upperecho/logger"
)

type options struct {
	client   echoclient.Config
	sentence string
}

// parseArgs maps the command line onto the client configuration. The
// sentence is empty when no positional arguments are given.
func parseArgs(fs *flag.FlagSet, args []string) (options, error) {
	addr := fs.String("addr", "localhost:12000", "server address")
	timeout := fs.Duration("timeout", 10*time.Second, "I/O timeout")
	maxResponse := fs.Int("max-response", echoclient.DefaultMaxResponseSize, "largest reply accepted; match the server's -buffer-size")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if *maxResponse <= 0 {
		return options{}, errors.New("max-response must be positive")
	}

	cfg := echoclient.DefaultConfig(*addr)
	cfg.IOTimeout = *timeout
	cfg.MaxResponseSize = *maxResponse

	return options{client: cfg, sentence: strings.Join(fs.Args(), " ")}, nil
}

func main() {
	l := logger.New(zerolog.ConsoleWriter{Out: os.Stderr}, "upperecho-client", zerolog.InfoLevel)

	opts, err := parseArgs(flag.CommandLine, os.Args[1:])
	if err != nil {
		l.Error("parse arguments", logger.Field{Key: "error", Value: err})
		os.Exit(2)
	}

	if opts.sentence == "" {
		fmt.Fprint(os.Stderr, "Input lowercase sentence: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			l.Error("read sentence", logger.Field{Key: "error", Value: err})
			os.Exit(1)
		}
		opts.sentence = strings.TrimRight(line, "\r\n")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reply, err := echoclient.New(opts.client).Exchange(ctx, []byte(opts.sentence))
	if err != nil {
		l.Error("exchange failed", logger.Field{Key: "addr", Value: opts.client.Address}, logger.Field{Key: "error", Value: err})
		stop()
		os.Exit(1)
	}

	fmt.Println(string(reply))
}
