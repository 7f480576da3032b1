package main

import (
	"context"
	"crypto/sha512"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/config"
	"github.com/marmos91/dittomount/pkg/imagesource"
	"github.com/marmos91/dittomount/pkg/mounter"
	"github.com/marmos91/dittomount/pkg/plist"
)

const usage = `DittoMount - disk image mounter client

Usage:
  dittomount [-config path] [-log-level level] <command> [flags]

Commands:
  init                Write a sample configuration file
  list                List mounted images
  lookup              Print signatures of mounted images of a type
  upload              Upload an image without mounting it
  mount               Upload and mount an image
  mount-personalized  Mount a personalized image using the device's manifest
  unmount             Unmount the image at a mount path
  manifest            Fetch the personalization manifest for a signature
  devmode             Print developer mode status
  nonce               Print the personalization nonce
  watch               Poll mounted images and export metrics
`

// app carries what every device command needs.
type app struct {
	cfg     *config.Config
	images  imagesource.Source
	session *mounter.Session
	metrics *config.MetricsResult
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default: $XDG_CONFIG_HOME/dittomount/config.yaml)")
	logLevel := flag.String("log-level", "", "Override log level (DEBUG, INFO, WARN, ERROR)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	command, args := flag.Arg(0), flag.Args()[1:]

	if command == "init" {
		runInit(*configPath, args)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = strings.ToUpper(*logLevel)
	}
	if err := config.ConfigureLogging(&cfg.Logging); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	// Create cancellable context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer func() {
		if err := a.session.Close(); err != nil {
			logger.Debug("Closing session: %v", err)
		}
	}()

	commands := map[string]func(context.Context, []string) error{
		"list":               a.list,
		"lookup":             a.lookup,
		"upload":             a.upload,
		"mount":              a.mount,
		"mount-personalized": a.mountPersonalized,
		"unmount":            a.unmount,
		"manifest":           a.manifest,
		"devmode":            a.devmode,
		"nonce":              a.nonce,
		"watch":              a.watch,
	}

	run, ok := commands[command]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		flag.Usage()
		os.Exit(2)
	}

	if err := run(ctx, args); err != nil {
		logger.Error("%s failed: %v", command, err)
		os.Exit(1)
	}
}

func runInit(configPath string, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing configuration file")
	_ = fs.Parse(args)

	if configPath != "" {
		if err := config.InitConfigToPath(configPath, *force); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Configuration written to %s\n", configPath)
		return
	}

	path, err := config.InitConfig(*force)
	if err != nil {
		log.Fatalf("Failed to write configuration: %v", err)
	}
	fmt.Printf("Configuration written to %s\n", path)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	p, err := config.CreateProvider(cfg)
	if err != nil {
		return nil, err
	}

	images, err := config.CreateImageSource(ctx, &cfg.Images)
	if err != nil {
		return nil, err
	}

	m := config.InitializeMetrics(cfg)

	return &app{
		cfg:     cfg,
		images:  images,
		session: mounter.NewSession(p, m.Mounter),
		metrics: m,
	}, nil
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	_ = fs.Parse(args)

	return a.session.Do(ctx, func(ctx context.Context, c *mounter.Client) error {
		entries, err := c.CopyDevices(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No images mounted")
			return nil
		}
		for i, e := range entries {
			fmt.Printf("%d: %s\n", i, describeEntry(e))
		}
		return nil
	})
}

func (a *app) lookup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	imageType := fs.String("type", mounter.ImageTypeDeveloper, "Image type")
	_ = fs.Parse(args)

	return a.session.Do(ctx, func(ctx context.Context, c *mounter.Client) error {
		sigs, err := c.LookupImage(ctx, *imageType)
		if err != nil {
			return err
		}
		if len(sigs) == 0 {
			fmt.Printf("No %s image mounted\n", *imageType)
		}
		for _, sig := range sigs {
			fmt.Printf("%x\n", sig)
		}
		return nil
	})
}

func (a *app) upload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	imageType := fs.String("type", mounter.ImageTypeDeveloper, "Image type")
	image := fs.String("image", "", "Image file name in the image source")
	signature := fs.String("signature", "", "Signature file name in the image source")
	_ = fs.Parse(args)

	bundle, err := imagesource.LoadBundle(ctx, a.images, imagesource.BundleNames{
		Image:     *image,
		Signature: *signature,
	})
	if err != nil {
		return err
	}

	return a.session.Do(ctx, func(ctx context.Context, c *mounter.Client) error {
		if err := c.UploadImage(ctx, *imageType, bundle.Image, bundle.Signature); err != nil {
			return err
		}
		fmt.Printf("Uploaded %s (%d bytes)\n", *image, len(bundle.Image))
		return nil
	})
}

func (a *app) mount(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mount", flag.ExitOnError)
	imageType := fs.String("type", mounter.ImageTypeDeveloper, "Image type")
	image := fs.String("image", "", "Image file name in the image source")
	signature := fs.String("signature", "", "Signature file name in the image source")
	trustCache := fs.String("trust-cache", "", "Optional trust cache file name")
	info := fs.String("info", "", "Optional info property list file name")
	_ = fs.Parse(args)

	bundle, err := imagesource.LoadBundle(ctx, a.images, imagesource.BundleNames{
		Image:      *image,
		Signature:  *signature,
		TrustCache: *trustCache,
		Info:       *info,
	})
	if err != nil {
		return err
	}

	return a.session.Do(ctx, func(ctx context.Context, c *mounter.Client) error {
		if err := c.UploadImage(ctx, *imageType, bundle.Image, bundle.Signature); err != nil {
			return err
		}
		if err := c.MountImage(ctx, *imageType, bundle.Signature, bundle.TrustCache, bundle.Info); err != nil {
			return err
		}
		fmt.Printf("Mounted %s as %s\n", *image, *imageType)
		return nil
	})
}

func (a *app) mountPersonalized(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mount-personalized", flag.ExitOnError)
	image := fs.String("image", "", "Image file name in the image source")
	trustCache := fs.String("trust-cache", "", "Trust cache file name")
	info := fs.String("info", "", "Optional info property list file name")
	personalizedType := fs.String("personalized-type", "DeveloperDiskImage", "Personalized image type")
	_ = fs.Parse(args)

	bundle, err := imagesource.LoadBundle(ctx, a.images, imagesource.BundleNames{
		Image:      *image,
		TrustCache: *trustCache,
		Info:       *info,
	})
	if err != nil {
		return err
	}

	digest := sha512.Sum384(bundle.Image)

	var manifest []byte
	err = a.session.Do(ctx, func(ctx context.Context, c *mounter.Client) error {
		var err error
		manifest, err = queryImageManifest(ctx, c, *personalizedType, digest[:])
		return err
	})
	if mounter.IsNotFound(err) {
		return fmt.Errorf("device has no manifest for image digest %x; a signing-server ticket is required", digest)
	}
	if err != nil {
		return err
	}

	return a.session.Do(ctx, func(ctx context.Context, c *mounter.Client) error {
		if err := c.MountPersonalized(ctx, bundle.Image, bundle.TrustCache, manifest, bundle.Info); err != nil {
			return err
		}
		fmt.Printf("Mounted %s as %s\n", *image, mounter.ImageTypePersonalized)
		return nil
	})
}

func (a *app) unmount(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("unmount", flag.ExitOnError)
	path := fs.String("path", "/Developer", "Mount path of the image")
	_ = fs.Parse(args)

	return a.session.Do(ctx, func(ctx context.Context, c *mounter.Client) error {
		if err := c.UnmountImage(ctx, *path); err != nil {
			return err
		}
		fmt.Printf("Unmounted %s\n", *path)
		return nil
	})
}

func (a *app) manifest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("manifest", flag.ExitOnError)
	personalizedType := fs.String("type", "DeveloperDiskImage", "Personalized image type")
	imageType := fs.String("image-type", "", "Image type (default: same as -type)")
	signature := fs.String("signature", "", "Signature file name in the image source")
	out := fs.String("out", "", "Output file (default: stdout as hex)")
	_ = fs.Parse(args)

	if *signature == "" {
		return errors.New("-signature is required")
	}
	if *imageType == "" {
		*imageType = *personalizedType
	}
	sig, err := a.images.ReadFile(ctx, *signature)
	if err != nil {
		return err
	}

	return a.session.Do(ctx, func(ctx context.Context, c *mounter.Client) error {
		manifest, err := c.QueryPersonalizationManifest(ctx, *personalizedType, *imageType, sig)
		if err != nil {
			return err
		}
		if *out == "" {
			fmt.Printf("%x\n", manifest)
			return nil
		}
		if err := os.WriteFile(*out, manifest, 0644); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
		fmt.Printf("Manifest written to %s (%d bytes)\n", *out, len(manifest))
		return nil
	})
}

func (a *app) devmode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("devmode", flag.ExitOnError)
	_ = fs.Parse(args)

	return a.session.Do(ctx, func(ctx context.Context, c *mounter.Client) error {
		enabled, err := c.QueryDeveloperModeStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Developer mode enabled: %t\n", enabled)
		return nil
	})
}

func (a *app) nonce(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("nonce", flag.ExitOnError)
	personalizedType := fs.String("type", "", "Personalized image type (default: device default)")
	_ = fs.Parse(args)

	return a.session.Do(ctx, func(ctx context.Context, c *mounter.Client) error {
		nonce, err := c.QueryNonce(ctx, *personalizedType)
		if err != nil {
			return err
		}
		fmt.Printf("%x\n", nonce)
		return nil
	})
}

func (a *app) watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	interval := fs.Duration("interval", 10*time.Second, "Polling interval")
	_ = fs.Parse(args)

	if *interval <= 0 {
		return errors.New("-interval must be positive")
	}

	var serverDone chan error
	if a.metrics.Server != nil {
		serverDone = make(chan error, 1)
		go func() {
			serverDone <- a.metrics.Server.Start(ctx)
		}()
	}

	logger.Info("Watching mounted images every %s", *interval)

	var last []string
	poll := func() {
		var current []string
		err := a.session.Do(ctx, func(ctx context.Context, c *mounter.Client) error {
			entries, err := c.CopyDevices(ctx)
			if err != nil {
				return err
			}
			for _, e := range entries {
				current = append(current, describeEntry(e))
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Polling mounted images failed (%s): %v", mounter.Classify(err), err)
			if mounter.Classify(err) == mounter.KindTransport {
				_ = a.session.Close()
			}
			return
		}
		if !slices.Equal(last, current) {
			logger.Info("Mounted images changed: %d -> %d", len(last), len(current))
			for _, e := range current {
				logger.Info("  %s", e)
			}
			last = current
		}
	}

	return watchLoop(ctx, *interval, serverDone, poll)
}

// watchLoop calls poll immediately and then every interval until ctx is
// done or the metrics server fails. A nil serverDone means no server runs;
// a closed one means the server stopped without error and polling goes on.
// On shutdown it waits for the server's own result.
func watchLoop(ctx context.Context, interval time.Duration, serverDone <-chan error, poll func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, stopping watch")
			if serverDone == nil {
				return nil
			}
			return <-serverDone
		case err, ok := <-serverDone:
			if ok && err != nil {
				return err
			}
			serverDone = nil
		case <-ticker.C:
			poll()
		}
	}
}

// queryImageManifest looks up the manifest the device already holds for an
// image digest. The device files personalized manifests under the
// personalized type, so it goes in both type fields; "Personalized" is only
// used for the upload and mount that follow.
func queryImageManifest(ctx context.Context, c *mounter.Client, personalizedType string, digest []byte) ([]byte, error) {
	return c.QueryPersonalizationManifest(ctx, personalizedType, personalizedType, digest)
}

// describeEntry renders a mounted-image entry on one line, preferring its
// mount path when present.
func describeEntry(v plist.Value) string {
	d, err := v.AsDict()
	if err != nil {
		return v.String()
	}
	if path, err := d.String("MountPath"); err == nil {
		if imageType, err := d.String("DiskImageType"); err == nil {
			return fmt.Sprintf("%s (%s)", path, imageType)
		}
		return path
	}
	return v.String()
}
