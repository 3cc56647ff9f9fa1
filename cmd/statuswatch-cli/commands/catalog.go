package commands

import (
	"fmt"

	"statuswatch-backend/lib/scrapers/vantage/catalog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	catalogCmd.AddCommand(catalogValidateCmd)
	catalogCmd.AddCommand(catalogShowCmd)
	rootCmd.AddCommand(catalogCmd)
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect selector catalogs before deploying them.",
}

func loadCatalog(args []string) *catalog.Catalog {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	c, err := catalog.Load(path)
	if err != nil {
		fatal(err)
	}
	return c
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Parse and validate a catalog file. Without a path, checks the embedded default.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := loadCatalog(args)
		fmt.Printf("ok: version %d, %d fields\n", c.Version, len(c.Fields))
	},
}

var catalogShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "List a catalog's fields and strategies. Without a path, shows the embedded default.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := loadCatalog(args)
		fmt.Printf("version %d\n", c.Version)

		t := newTable()
		t.AppendHeader(table.Row{"Field", "Kind", "Mandatory", "Strategy", "Selector/Pattern"})
		for _, field := range c.Fields {
			for i, strategy := range field.Strategies {
				name, kind, mandatory := "", "", ""
				if i == 0 {
					name = field.Name
					kind = string(field.Kind)
					mandatory = fmt.Sprint(field.Mandatory)
				}
				locator := strategy.Selector
				if strategy.Kind == catalog.KindRegex {
					locator = strategy.Pattern
				}
				if strategy.Kind == catalog.KindCssAttr {
					locator = fmt.Sprintf("%s @%s", strategy.Selector, strategy.Attr)
				}
				t.AppendRow(table.Row{name, kind, mandatory, strategy.Id, locator})
			}
		}
		t.Render()
	},
}
