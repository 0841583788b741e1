package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"deadswitch/backend/internal/notify"
	"deadswitch/backend/internal/sharing"
)

var flagShares = &cli.IntFlag{
	Name:  "shares",
	Value: 3,
	Usage: "Number of shares to produce",
}

var flagThreshold = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
	Usage: "Number of shares required to recover the secret",
}

var flagSecret = &cli.StringFlag{
	Name:  "secret",
	Usage: "Secret to split, read from stdin when empty",
}

var flagSecretsJS = &cli.BoolFlag{
	Name:  "secretsjs",
	Usage: "Produce secrets.js compatible shares, as the web client does",
}

var flagServer = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "Server base URL",
	EnvVars: []string{"DEADSWITCH_SERVER"},
}

var flagTaskToken = &cli.StringFlag{
	Name:    "token",
	Usage:   "Task token configured on the server",
	EnvVars: []string{"DEADSWITCH_SCHEDULER_TASK_TOKEN"},
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "deadswitchctl",
		Usage: "operator tooling for the deadswitch server",
		Commands: []*cli.Command{
			{
				Name:  "vapid-keys",
				Usage: "Generate a VAPID key pair for web push",
				Action: func(cCtx *cli.Context) error {
					publicKey, privateKey, err := notify.GenerateVAPIDKeys()
					if err != nil {
						return err
					}
					fmt.Fprintf(cCtx.App.Writer, "DEADSWITCH_PUSH_VAPID_PUBLIC_KEY=%s\n", publicKey)
					fmt.Fprintf(cCtx.App.Writer, "DEADSWITCH_PUSH_VAPID_PRIVATE_KEY=%s\n", privateKey)
					return nil
				},
			},
			{
				Name:  "split",
				Usage: "Split a secret into shares, one per line",
				Flags: []cli.Flag{flagShares, flagThreshold, flagSecret, flagSecretsJS},
				Action: func(cCtx *cli.Context) error {
					secret := cCtx.String(flagSecret.Name)
					if secret == "" {
						raw, err := io.ReadAll(cCtx.App.Reader)
						if err != nil {
							return fmt.Errorf("failed to read secret: %w", err)
						}
						secret = strings.TrimRight(string(raw), "\r\n")
					}

					split := sharing.Split
					payload := []byte(secret)
					if cCtx.Bool(flagSecretsJS.Name) {
						split = sharing.SplitSecretsJS
						payload = sharing.EncodeUTF16(secret)
					}
					shares, err := split(payload, cCtx.Int(flagShares.Name), cCtx.Int(flagThreshold.Name))
					if err != nil {
						return err
					}
					for _, share := range shares {
						fmt.Fprintln(cCtx.App.Writer, share)
					}
					return nil
				},
			},
			{
				Name:      "combine",
				Usage:     "Recover a secret from shares given as arguments or on stdin",
				ArgsUsage: "[share...]",
				Action: func(cCtx *cli.Context) error {
					shares := cCtx.Args().Slice()
					if len(shares) == 0 {
						scanner := bufio.NewScanner(cCtx.App.Reader)
						scanner.Buffer(make([]byte, 64*1024), 1024*1024)
						for scanner.Scan() {
							if line := strings.TrimSpace(scanner.Text()); line != "" {
								shares = append(shares, line)
							}
						}
						if err := scanner.Err(); err != nil {
							return fmt.Errorf("failed to read shares: %w", err)
						}
					}

					secret, err := sharing.CombineText(shares)
					if err != nil {
						return err
					}
					fmt.Fprintln(cCtx.App.Writer, secret)
					return nil
				},
			},
			{
				Name:  "tick",
				Usage: "Trigger one liveness tick on a running server",
				Flags: []cli.Flag{flagServer, flagTaskToken},
				Action: func(cCtx *cli.Context) error {
					url := strings.TrimRight(cCtx.String(flagServer.Name), "/") + "/v1/tasks/tick"
					req, err := http.NewRequestWithContext(cCtx.Context, http.MethodPost, url, nil)
					if err != nil {
						return err
					}
					req.Header.Set("Authorization", "Bearer "+cCtx.String(flagTaskToken.Name))

					client := &http.Client{Timeout: time.Minute}
					resp, err := client.Do(req)
					if err != nil {
						return err
					}
					defer resp.Body.Close()

					body, _ := io.ReadAll(resp.Body)
					if resp.StatusCode != http.StatusOK {
						return fmt.Errorf("tick failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
					}
					fmt.Fprintln(cCtx.App.Writer, strings.TrimSpace(string(body)))
					return nil
				},
			},
			migrateCommand(),
			createUserCommand(),
		},
	}
}
