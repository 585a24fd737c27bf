package main

import (
	"errors"
	"fmt"
	"os"

	"annotation-backend/internal/database"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	envFile     string
	databaseURL string
	sqlitePath  string

	username  string
	email     string
	superuser bool
)

var rootCmd = &cobra.Command{
	Use:          "manage",
	Short:        "Administrative commands for the annotation backend",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("error loading env file %q: %w", envFile, err)
			}
		}
		if databaseURL == "" {
			databaseURL = os.Getenv("DATABASE_URL")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply all pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		if err := database.GetMigrator(db).Migrate(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Println("database is up to date")
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the most recent schema migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		if err := database.GetMigrator(db).RollbackLast(); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		fmt.Println("rolled back last migration")
		return nil
	},
}

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create a user, or promote an existing one",
	Long: `Create a user with the given username. Requests identify their user by
username, so this is only needed to create staff or superuser accounts ahead of
their first request.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if username == "" {
			return errors.New("--username is required")
		}

		db, err := openDatabase()
		if err != nil {
			return err
		}

		user, err := database.GetOrCreateUser(cmd.Context(), db, username, email)
		if err != nil {
			return err
		}
		if superuser && !user.IsSuperuser {
			user.IsSuperuser = true
			user.IsStaff = true
			if err := db.Save(user).Error; err != nil {
				return fmt.Errorf("error promoting user %q: %w", username, err)
			}
		}

		fmt.Printf("user %s (id %d, superuser %t)\n", user.Username, user.Id, user.IsSuperuser)
		return nil
	},
}

func openDatabase() (*gorm.DB, error) {
	if sqlitePath != "" {
		db, err := gorm.Open(sqlite.Open(sqlitePath+"?_foreign_keys=1"), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("error opening sqlite database: %w", err)
		}
		return db, nil
	}
	if databaseURL == "" {
		return nil, errors.New("no database configured, set --database-url or --sqlite")
	}
	return database.NewDatabase(databaseURL)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "path to load env from")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "postgres connection url (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite", "", "path to a local mode sqlite database")

	createUserCmd.Flags().StringVar(&username, "username", "", "username of the user")
	createUserCmd.Flags().StringVar(&email, "email", "", "email of the user")
	createUserCmd.Flags().BoolVar(&superuser, "superuser", false, "grant superuser and staff rights")

	rootCmd.AddCommand(migrateCmd, rollbackCmd, createUserCmd)
}
