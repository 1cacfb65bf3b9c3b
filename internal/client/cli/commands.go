package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fileproxy/internal/client/client"
)

var errUsage = errors.New("usage")

const helpText = "Available commands: publickey [ssh], upload FILE..., health, help, exit"

func (a *App) exec(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "help":
		fmt.Fprintln(a.out, helpText)
		return nil
	case "publickey", "pk":
		return a.publicKey(ctx, rest)
	case "upload", "up":
		return a.upload(ctx, rest)
	case "health":
		return a.health(ctx)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *App) publicKey(ctx context.Context, args []string) error {
	var (
		key string
		err error
	)
	switch {
	case len(args) == 0:
		key, err = a.client.PublicKeyText(ctx)
	case len(args) == 1 && args[0] == "ssh":
		key, err = a.client.AuthorizedKey(ctx)
	default:
		return fmt.Errorf("%w: publickey [ssh]", errUsage)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, key)
	return nil
}

func (a *App) upload(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: upload FILE...", errUsage)
	}
	if a.config.Name != "" && len(paths) > 1 {
		return errors.New("--name needs exactly one file")
	}

	var failed []error
	for _, p := range paths {
		res, err := a.client.UploadFile(ctx, p, a.config.Name, client.Mode(a.config.Mode))
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", p, err))
			continue
		}
		fmt.Fprintf(a.out, "%s -> %s (%s)\n", p, res.Path, res.Mode)
	}
	return errors.Join(failed...)
}

func (a *App) health(ctx context.Context) error {
	if err := a.client.Health(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}
