package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paideia-dilemma/tortillas/snapshot"
)

func init() {
	var baseImage string

	snapshotCommand := &cobra.Command{
		Use:   "snapshot",
		Short: "Boot the base disk image once and save the golden snapshot",
		Long: `snapshot boots baseImage from cold, waits for the kernel's bootup
signal, and saves the resulting VM state under the build directory. The
run command reuses this snapshot so it never pays the boot cost per test.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			arch, err := resolveArch()
			if err != nil {
				return err
			}
			if baseImage == "" {
				return fmt.Errorf("--base-image is required")
			}

			golden, err := snapshot.Create(snapshot.Config{
				BuildDir:      buildDir,
				BaseImage:     baseImage,
				Arch:          arch,
				SyscallVector: syscallVector,
				BootupMagic:   cfg.ScTortillasBootup,
				BootupTimeout: cfg.BootupTimeout,
				Logger:        logger,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "golden snapshot ready: %s\n", golden.DiskImage)
			return nil
		},
	}

	snapshotCommand.Flags().StringVar(&baseImage, "base-image", "", "path to the freshly built SWEB disk image")
	RootCommand.AddCommand(snapshotCommand)
}
