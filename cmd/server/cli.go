package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/commune-sh/public-appservice/internal/config"
)

func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "public-appservice",
		Usage:   "Expose public Matrix rooms to guests through an appservice",
		Version: fmt.Sprintf("%s (%s)", Version, Commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.toml",
			},
		},
		Action: serveAction,
		Commands: []*cli.Command{
			serveCmd(),
			checkConfigCmd(),
			generateRegistrationCmd(),
		},
	}
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func loadConfig(c *cli.Context) (config.Config, string, error) {
	path, err := config.Find(c.String("config"))
	if err != nil {
		return config.Config{}, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, path, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, path, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the appservice (default)",
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	return serve(c.Context, cfg)
}

func checkConfigCmd() *cli.Command {
	return &cli.Command{
		Name:  "check-config",
		Usage: "Validate the config file and exit",
		Action: func(c *cli.Context) error {
			_, path, err := loadConfig(c)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s: ok\n", path)
			return nil
		},
	}
}

func generateRegistrationCmd() *cli.Command {
	return &cli.Command{
		Name:  "generate-registration",
		Usage: "Print the appservice registration for the homeserver",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write to file instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			cfg, _, err := loadConfig(c)
			if err != nil {
				return err
			}
			var out io.Writer = c.App.Writer
			if path := c.String("output"); path != "" {
				f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return fmt.Errorf("open %s: %w", path, err)
				}
				defer f.Close()
				out = f
			}
			return writeRegistration(out, cfg)
		},
	}
}

// registration is the appservice registration file read by the homeserver.
type registration struct {
	ID              string     `yaml:"id"`
	URL             string     `yaml:"url"`
	ASToken         string     `yaml:"as_token"`
	HSToken         string     `yaml:"hs_token"`
	SenderLocalpart string     `yaml:"sender_localpart"`
	RateLimited     bool       `yaml:"rate_limited"`
	Namespaces      namespaces `yaml:"namespaces"`
}

type namespaces struct {
	Users   []namespace `yaml:"users"`
	Aliases []namespace `yaml:"aliases"`
	Rooms   []namespace `yaml:"rooms"`
}

type namespace struct {
	Exclusive bool   `yaml:"exclusive"`
	Regex     string `yaml:"regex"`
}

func newRegistration(cfg config.Config) registration {
	url := cfg.Appservice.URL
	if url == "" {
		url = "http://localhost" + cfg.Addr()
	}
	return registration{
		ID:              cfg.Appservice.ID,
		URL:             url,
		ASToken:         cfg.Appservice.AccessToken,
		HSToken:         cfg.Appservice.HSAccessToken,
		SenderLocalpart: cfg.Appservice.SenderLocalpart,
		Namespaces: namespaces{
			Users:   []namespace{},
			Aliases: []namespace{},
			Rooms:   []namespace{},
		},
	}
}

func writeRegistration(w io.Writer, cfg config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(newRegistration(cfg)); err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	return enc.Close()
}
