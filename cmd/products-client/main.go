package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bharat-rajani/grpc-products/internal/callmetrics"
	"github.com/bharat-rajani/grpc-products/internal/config"
	"github.com/bharat-rajani/grpc-products/internal/eventbus"
	plog "github.com/bharat-rajani/grpc-products/internal/logging"
	"github.com/bharat-rajani/grpc-products/internal/otel"
	"github.com/bharat-rajani/grpc-products/internal/productclient"
	"github.com/bharat-rajani/grpc-products/internal/productpb"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var log = plog.MustGetLogger("products-client")

func main() {
	plog.InstallGRPCLogger(plog.NewGRPCLogger(0))
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	defer a.teardown()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		color.New(color.FgRed).Fprintf(stderr, "error: %v\n", err)
		return productclient.ExitCode(err)
	}
	return productclient.ExitOK
}

// app holds what one invocation sets up and must release.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	cfg      config.Config
	metrics  *callmetrics.Recorder
	cleanups []func()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "products-client",
		Short: "Query the products.v1.ProductService",
		Long: `products-client asks a ProductService for the product types of a vendor
and prints the answer. Settings come from flags, PRODUCTS_* environment
variables and .env files, in that order.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			return a.fetchProductType(cmd.Context())
		},
	}
	config.BindFlags(root.PersistentFlags())
	root.AddCommand(a.productsCmd(), a.setProductsCmd(), a.protoCmd(), a.versionCmd())
	return root
}

func (a *app) productsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products <vendor> <productType>",
		Short: "Stream the products of a vendor and product type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			streamTimeout, err := cmd.Flags().GetDuration("stream-timeout")
			if err != nil {
				return err
			}
			return a.listProducts(cmd.Context(), args[0], args[1], streamTimeout)
		},
	}
	cmd.Flags().Duration("stream-timeout", 0, "stop streaming after this long; 0 streams until the server ends or a signal arrives")
	return cmd
}

func (a *app) setProductsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-products <vendor> <productType> [title[,url[,shortUrl]]...]",
		Short: "Upload products of a vendor and product type",
		Long: `set-products streams products to the service and prints how many it
accepted. Each product is "title,url,shortUrl"; url and shortUrl may be
omitted. Without product arguments, products are read from stdin, one per
line.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := parseProducts(args[2:], a.stdin)
			if err != nil {
				return err
			}
			if err := a.setup(cmd); err != nil {
				return err
			}
			return a.setProducts(cmd.Context(), args[0], args[1], products)
		},
	}
}

func (a *app) protoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proto",
		Short: "Print the products.proto service definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return err
			}
			if out == "" {
				return productpb.Render(a.stdout)
			}
			path, err := productpb.RenderDir(out)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, path)
			return nil
		},
	}
	cmd.Flags().String("out", "", "write products.proto into this directory instead of stdout")
	return cmd
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of products-client",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.stdout, "products-client %s\n", version)
		},
	}
}

// setup resolves the configuration and starts logging, tracing and metrics.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags(), config.DefaultEnvFiles...)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if _, err := plog.Setup(cfg.LogLevel, a.stderr, a.stderr == io.Writer(os.Stderr) && !color.NoColor); err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	a.cleanups = append(a.cleanups, func() { eventbus.Use(nil) })

	shutdown, err := otel.Setup(cmd.Context(), cfg.OTelEndpoint, cfg.OTelService)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	a.cleanups = append(a.cleanups, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Warningf("otel shutdown: %v", err)
		}
	})

	if cfg.Metrics {
		a.metrics = callmetrics.New()
		a.cleanups = append(a.cleanups, a.metrics.Register())
	}
	log.Debugf("config: endpoint=%s vendor=%s timeout=%s wait-for-ready=%t", cfg.Endpoint, cfg.Vendor, cfg.Timeout, cfg.WaitForReady)
	return nil
}

func (a *app) teardown() {
	if a.metrics != nil {
		a.metrics.WritePrometheus(a.stderr)
	}
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

func (a *app) fetchProductType(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pt, err := productclient.FetchVendorProductType(ctx, a.cfg.Endpoint, a.cfg.Vendor, a.cfg.Timeout,
		productclient.WithWaitForReady(a.cfg.WaitForReady))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, a.cfg.ClientName+" Product client received: "+pt)
	return nil
}

func (a *app) listProducts(ctx context.Context, vendor, productType string, streamTimeout time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := productclient.New(a.cfg.Endpoint,
		productclient.WithTimeout(a.cfg.Timeout),
		productclient.WithWaitForReady(a.cfg.WaitForReady),
		productclient.WithStreamTimeout(streamTimeout))
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warningf("close client: %v", err)
		}
	}()

	return c.ListVendorProducts(ctx, vendor, productType, func(p productclient.Product) error {
		_, err := fmt.Fprintf(a.stdout, "Title: %s, Url: %s, ShortUrl: %s\n", p.Title, p.URL, p.ShortURL)
		return err
	})
}

func (a *app) setProducts(ctx context.Context, vendor, productType string, products []productclient.Product) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := productclient.New(a.cfg.Endpoint,
		productclient.WithTimeout(a.cfg.Timeout),
		productclient.WithWaitForReady(a.cfg.WaitForReady))
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warningf("close client: %v", err)
		}
	}()

	n, err := c.SetVendorProducts(ctx, vendor, productType, slices.Values(products))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s Product client set %d %s products for %s\n", a.cfg.ClientName, n, productType, vendor)
	return nil
}

var errNoProducts = errors.New("no products given")

// parseProducts reads products from args, or from r one per line when args
// is empty. Blank lines are skipped.
func parseProducts(args []string, r io.Reader) ([]productclient.Product, error) {
	lines := args
	if len(lines) == 0 && r != nil {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read products: %w", err)
		}
	}
	var out []productclient.Product
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, ",", 3)
		for len(fields) < 3 {
			fields = append(fields, "")
		}
		p := productclient.Product{
			Title:    strings.TrimSpace(fields[0]),
			URL:      strings.TrimSpace(fields[1]),
			ShortURL: strings.TrimSpace(fields[2]),
		}
		if p.Title == "" {
			return nil, fmt.Errorf("product %q has no title", line)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, errNoProducts
	}
	return out, nil
}
