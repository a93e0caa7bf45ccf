package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stn81/ocean"
	"github.com/stn81/ocean/config"
	"github.com/stn81/ocean/packet"
)

type clientFlags struct {
	ConfigFile  string
	Addr        string
	Concurrency int
}

var flags clientFlags

var rootCmd = &cobra.Command{
	Use:   "ocean-client [message...]",
	Short: "Send SIMPLE_IN_PACKET requests to an ocean server",
	Long: `With arguments the joined message is sent once, or --concurrency times in
parallel over pooled connections. Without arguments each line read from stdin
is sent until "exit" or end of input.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.LoadClientConfig(flags.ConfigFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			conf.Addr = flags.Addr
		}
		if err = conf.Validate(); err != nil {
			return err
		}

		logger, err := config.NewLogger(conf.Log)
		if err != nil {
			return err
		}
		defer logger.Sync()
		ocean.SetLogger(logger)

		if len(args) > 0 && flags.Concurrency > 1 {
			pool := ocean.NewClientPool(cmd.Context(), ocean.ClientFactoryFunc(func() (ocean.Client, error) {
				return newClient(cmd.Context(), conf, logger)
			}), ocean.ClientPoolConfig{Max: flags.Concurrency})
			defer pool.Close()
			return sendConcurrent(cmd.Context(), pool, conf, cmd.OutOrStdout(), strings.Join(args, " "), flags.Concurrency)
		}

		client, err := newClient(cmd.Context(), conf, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		if len(args) > 0 {
			return send(cmd.Context(), client, conf, cmd.OutOrStdout(), strings.Join(args, " "))
		}
		return interact(cmd.Context(), client, conf, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flags.ConfigFile, "config", "c", "", "TOML config file")
	rootCmd.Flags().StringVarP(&flags.Addr, "addr", "a", "", "server address host:port")
	rootCmd.Flags().IntVarP(&flags.Concurrency, "concurrency", "n", 1, "send the message this many times in parallel")
}

func newClient(ctx context.Context, conf *config.ClientConfig, logger *zap.Logger) (ocean.Client, error) {
	tcpConf, err := conf.TCPClientConfig()
	if err != nil {
		return nil, err
	}
	tcpConf.Logger = logger

	var client ocean.Client = ocean.NewTCPClient(ctx, tcpConf)
	if conf.BreakerFailures > 0 {
		client = ocean.NewCircuitBreakerClient(client, ocean.NewBreaker(conf.Addr, conf.BreakerFailures, conf.BreakerTimeout))
	}

	if err = client.Dial(conf.Addr); err != nil {
		client.Close()
		return nil, fmt.Errorf("dial %s: %w", conf.Addr, err)
	}
	return client, nil
}

func send(ctx context.Context, client ocean.Client, conf *config.ClientConfig, out io.Writer, message string) error {
	reply, err := client.CallWithTimeout(ctx, packet.NewSimpleInPacket(client.NextID(), message), conf.CallTimeout)
	if err != nil {
		return err
	}
	if !reply.Success() {
		return reply.Err()
	}
	fmt.Fprintln(out, reply.Response())
	return nil
}

// sendConcurrent sends message n times at once, each send on its own pooled
// client. Replies are printed as they arrive; the first failure is returned.
func sendConcurrent(ctx context.Context, pool *ocean.ClientPool, conf *config.ClientConfig, out io.Writer, message string, n int) error {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			client := pool.Get()
			defer client.Close()

			var buf strings.Builder
			if err := send(ctx, client, conf, &buf, message); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			_, err := io.WriteString(out, buf.String())
			return err
		})
	}
	return g.Wait()
}

func interact(ctx context.Context, client ocean.Client, conf *config.ClientConfig, in io.Reader, out io.Writer) error {
	console := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "send> ")
		if !console.Scan() {
			return console.Err()
		}

		line := strings.TrimSpace(console.Text())
		switch line {
		case "":
			continue
		case "exit":
			return nil
		}

		if err := send(ctx, client, conf, out, line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
