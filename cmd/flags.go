package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/leadcrawl/internal/app"
)

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag.Name, err))
	}
}

// tuningFlags are the per-run knobs shared by crawl, fetch and index.
type tuningFlags struct {
	maxDepth    int
	maxPages    int
	concurrency int
	noCache     bool
	dynamic     bool
	noContact   bool
}

func (f *tuningFlags) register(cmd *cobra.Command, crawl bool) {
	flags := cmd.Flags()
	if crawl {
		flags.IntVar(&f.maxDepth, "max-depth", -1, "maximum link depth (default from config)")
		flags.IntVar(&f.maxPages, "max-pages", 0, "page budget (default from config)")
		flags.BoolVar(&f.noContact, "no-contact-priority", false, "do not jump contact/about links to the front")
	}
	flags.IntVar(&f.concurrency, "concurrency", 0, "parallel fetches (default from config)")
	flags.BoolVar(&f.noCache, "no-cache", false, "bypass the content cache")
	flags.BoolVar(&f.dynamic, "dynamic", false, "enable headless rendering for this run")
}

func (f *tuningFlags) overrides(cmd *cobra.Command) app.Overrides {
	var o app.Overrides
	if cmd.Flags().Changed("max-depth") {
		depth := f.maxDepth
		o.MaxDepth = &depth
	}
	o.MaxPages = f.maxPages
	o.Concurrency = f.concurrency
	if f.noCache {
		useCache := false
		o.UseCache = &useCache
	}
	if f.dynamic {
		dynamic := true
		o.DynamicRendering = &dynamic
	}
	if f.noContact {
		deep := false
		o.DeepContact = &deep
	}
	return o
}

// pageSizes replaces every HTML body with its length, for compact output.
func pageSizes(pages map[string]string) map[string]int {
	out := make(map[string]int, len(pages))
	for u, html := range pages {
		out[u] = len(html)
	}
	return out
}
