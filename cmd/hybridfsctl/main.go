// Command hybridfsctl is an offline inspection/formatting tool for a
// hybrid-fs image pair. It is deliberately not a FUSE mount binding —
// the host kernel binding stays out of scope (spec.md §1) — grounded
// on direktiv-vorteil/cmd/vorteil's cobra root-command-plus-
// PersistentFlags shape (cli.go's rootCmd wiring), pared down to the
// two offline subcommands this engine actually needs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	ext4 "github.com/ouyhlan/hybrid-fs"
	"github.com/ouyhlan/hybrid-fs/config"
)

var (
	flagConfig string
	flagSSD    string
	flagHDD    string
)

var rootCmd = &cobra.Command{
	Use:   "hybridfsctl",
	Short: "inspect and format hybrid-fs images offline",
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		if flagSSD == "" || flagHDD == "" {
			return nil, err
		}
		cfg = &config.Config{SSDMaxLblock: 1024}
	}
	if flagSSD != "" {
		cfg.SSDPath = flagSSD
	}
	if flagHDD != "" {
		cfg.HDDPath = flagHDD
	}
	return cfg, nil
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "dump superblock and group descriptor state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		io, err := ext4.OpenBlockIO(cfg.SSDPath, cfg.HDDPath)
		if err != nil {
			return err
		}
		defer io.Close()

		md, err := ext4.LoadMetadata(io, cfg.SSDMaxLblock)
		if err != nil {
			return err
		}

		sb := md.Superblock
		fmt.Printf("uuid:          %s\n", sb.UUID())
		fmt.Printf("block size:    %d\n", sb.BlockSize())
		fmt.Printf("total blocks:  %d\n", sb.TotalBlocks())
		fmt.Printf("groups:        %d\n", sb.GroupsCount())
		fmt.Printf("inode size:    %d\n", sb.SInodeSize)
		fmt.Printf("inodes/group:  %d\n", sb.SInodesPerGroup)
		return nil
	},
}

var formatHDDCmd = &cobra.Command{
	Use:   "format-hdd",
	Short: "initialize the cold tier of a blank HDD image (an initialized one is left as is)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		io, err := ext4.OpenBlockIO(cfg.SSDPath, cfg.HDDPath)
		if err != nil {
			return err
		}
		defer io.Close()

		if _, err := ext4.LoadMetadata(io, cfg.SSDMaxLblock); err != nil {
			return err
		}
		fmt.Println("hdd tier initialized")
		return nil
	},
}

func init() {
	flags := pflag.NewFlagSet("hybridfsctl", pflag.ExitOnError)
	rootCmd.PersistentFlags().AddFlagSet(flags)

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagSSD, "ssd", "", "path to the SSD backing image (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagHDD, "hdd", "", "path to the HDD backing image (overrides config)")

	rootCmd.AddCommand(inspectCmd, formatHDDCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
