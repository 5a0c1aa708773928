package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paideia-dilemma/tortillas/testspec"
)

func init() {
	var testGlob string
	var categories, tags []string

	listCommand := &cobra.Command{
		Use:   "list",
		Short: "List discovered test cases without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := discoverAndFilter(testGlob, categories, tags)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range specs {
				fmt.Fprintf(out, "%s\t%s\t%v\n", s.TestName, s.Category, s.Tags)
			}
			fmt.Fprintf(out, "%d test(s)\n", len(specs))
			return nil
		},
	}

	listCommand.Flags().StringVar(&testGlob, "test-glob", "", "shell-style glob over test names")
	listCommand.Flags().StringSliceVar(&categories, "category", nil, "restrict to these categories (repeatable)")
	listCommand.Flags().StringSliceVar(&tags, "tag", nil, "restrict to tests carrying at least one of these tags (repeatable)")
	RootCommand.AddCommand(listCommand)
}

func discoverAndFilter(testGlob string, categories, tags []string) ([]testspec.TestSpec, error) {
	specs, err := testspec.Discover(sourceRoot, "")
	if err != nil {
		return nil, fmt.Errorf("discover tests: %w", err)
	}
	specs, err = testspec.FilterByNameGlob(specs, testGlob)
	if err != nil {
		return nil, err
	}
	return testspec.FilterByCategoryAndTags(specs, categories, tags), nil
}
