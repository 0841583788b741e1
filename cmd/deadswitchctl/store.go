package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"deadswitch/backend/internal/auth"
	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/storage"
	"deadswitch/backend/internal/storage/filesystem"
	sqlstore "deadswitch/backend/internal/storage/sql"
)

var flagStorageType = &cli.StringFlag{
	Name:    "storage-type",
	Usage:   "filesystem | postgres | mysql | sqlite",
	EnvVars: []string{"DEADSWITCH_STORAGE_TYPE"},
}

var flagStoragePath = &cli.StringFlag{
	Name:    "storage-path",
	Value:   "./data",
	Usage:   "Directory of the filesystem store",
	EnvVars: []string{"DEADSWITCH_STORAGE_PATH"},
}

var flagStorageDSN = &cli.StringFlag{
	Name:    "dsn",
	Usage:   "Database DSN for SQL stores",
	EnvVars: []string{"DEADSWITCH_STORAGE_DSN"},
}

var flagIdentity = &cli.StringFlag{
	Name:     "identity",
	Usage:    "E-mail address of the new user",
	Required: true,
}

var flagPassword = &cli.StringFlag{
	Name:     "password",
	Usage:    "Password of the new user",
	Required: true,
}

var storageFlags = []cli.Flag{flagStorageType, flagStoragePath, flagStorageDSN}

// openStore 打开持久化存储，SQL 存储在打开时自动迁移表结构
func openStore(cCtx *cli.Context) (storage.Store, error) {
	switch typ := cCtx.String(flagStorageType.Name); typ {
	case "":
		return nil, fmt.Errorf("--%s is required", flagStorageType.Name)
	case "memory":
		return nil, fmt.Errorf("memory storage is not persistent")
	case "filesystem", "json":
		return filesystem.NewStore(cCtx.String(flagStoragePath.Name))
	default:
		return sqlstore.NewStore(typ, cCtx.String(flagStorageDSN.Name), sqlstore.Options{})
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or upgrade the database schema",
		Flags: storageFlags,
		Action: func(cCtx *cli.Context) error {
			store, err := openStore(cCtx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Health(cCtx.Context); err != nil {
				return fmt.Errorf("storage unreachable: %w", err)
			}
			fmt.Fprintf(cCtx.App.Writer, "schema up to date (%s)\n", cCtx.String(flagStorageType.Name))
			return nil
		},
	}
}

// createUserCommand 在关闭注册时由运维直接创建用户
func createUserCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-user",
		Usage: "Create a user directly in storage, bypassing closed registration",
		Flags: append([]cli.Flag{flagIdentity, flagPassword}, storageFlags...),
		Action: func(cCtx *cli.Context) error {
			identity := domain.NormalizeIdentity(cCtx.String(flagIdentity.Name))
			if err := domain.ValidateIdentity(identity); err != nil {
				return err
			}
			password := cCtx.String(flagPassword.Name)
			if err := domain.ValidatePassword(password); err != nil {
				return err
			}

			store, err := openStore(cCtx)
			if err != nil {
				return err
			}
			defer store.Close()

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			if err := store.CreateUser(cCtx.Context, &domain.User{
				ID:           identity,
				PasswordHash: hash,
				LastSeen:     now,
				CreatedAt:    now,
				UpdatedAt:    now,
			}); err != nil {
				return err
			}

			fmt.Fprintf(cCtx.App.Writer, "user %s created\n", identity)
			return nil
		},
	}
}
