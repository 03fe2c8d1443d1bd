// Command gocrawl runs a single-seed crawl from the terminal.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codepr/gocrawl/crawler"
	"github.com/codepr/gocrawl/events"
	"github.com/codepr/gocrawl/messaging"
)

var (
	seedURL            string
	userAgent          string
	interval           time.Duration
	concurrency        int
	timeout            time.Duration
	maxDepth           int
	respectRobots      bool
	filterByDomain     bool
	scanSubdomains     bool
	ignoreWWWDomain    bool
	domainWhitelist    []string
	supportedMimeTypes []string
	decompress         bool
	decode             bool
	useEnv             bool
	printDiscoveries   bool
)

var rootCmd = &cobra.Command{
	Use:   "gocrawl <seed-url>",
	Short: "gocrawl crawls a single site starting from one seed URL",
	Long: `gocrawl is a single-seed, event-driven web crawler.

It fetches a seed URL, extracts outbound links, and follows them breadth-first
within the domain boundaries configured by flags, logging progress as it goes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seedURL = args[0]

		var cfg crawler.Config
		if useEnv {
			cfg = crawler.ConfigFromEnv()
		} else {
			cfg = crawler.DefaultConfig()
		}
		if cmd.Flags().Changed("user-agent") {
			cfg.UserAgent = userAgent
		}
		if cmd.Flags().Changed("interval") {
			cfg.Interval = interval
		}
		if cmd.Flags().Changed("concurrency") {
			cfg.MaxConcurrency = concurrency
		}
		if cmd.Flags().Changed("timeout") {
			cfg.Timeout = timeout
		}
		if cmd.Flags().Changed("max-depth") {
			cfg.MaxDepth = maxDepth
		}
		if cmd.Flags().Changed("respect-robots") {
			cfg.RespectRobotsTxt = respectRobots
		}
		if cmd.Flags().Changed("filter-by-domain") {
			cfg.FilterByDomain = filterByDomain
		}
		if cmd.Flags().Changed("scan-subdomains") {
			cfg.ScanSubdomains = scanSubdomains
		}
		if cmd.Flags().Changed("ignore-www") {
			cfg.IgnoreWWWDomain = ignoreWWWDomain
		}
		if len(domainWhitelist) > 0 {
			cfg.DomainWhitelist = domainWhitelist
		}
		if len(supportedMimeTypes) > 0 {
			cfg.SupportedMimeTypes = supportedMimeTypes
		}
		if cmd.Flags().Changed("decompress") {
			cfg.DecompressResponses = decompress
		}
		if cmd.Flags().Changed("decode") {
			cfg.DecodeResponses = decode
		}

		logger := log.New(os.Stdout, "gocrawl: ", log.LstdFlags)

		opts := []crawler.Option{crawler.WithLogger(logger)}
		var results messaging.ChannelQueue
		if printDiscoveries {
			results = messaging.NewChannelQueue()
			opts = append(opts, crawler.WithResultsQueue(results))
			go func() {
				payloads := make(chan []byte)
				defer close(payloads)
				go func() {
					for payload := range payloads {
						var r crawler.DiscoveryResult
						if err := json.Unmarshal(payload, &r); err != nil {
							continue
						}
						logger.Printf("discovered %d link(s) on %s", len(r.Links), r.URL)
					}
				}()
				results.Consume(payloads)
			}()
		}

		c := crawler.New(cfg, opts...)

		done := make(chan struct{})
		c.Events().On(events.Complete, func(args ...interface{}) {
			close(done)
		})
		c.Events().On(events.InvalidDomain, func(args ...interface{}) {
			logger.Printf("skipped out-of-domain link: %v", args)
		})

		if err := c.Start(seedURL); err != nil {
			return fmt.Errorf("starting crawl: %w", err)
		}

		<-done
		if printDiscoveries {
			results.Close()
		}
		logger.Printf("crawl complete: %d items in queue", c.Queue().Len())
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&userAgent, "user-agent", "", "User-Agent header sent with every request")
	rootCmd.Flags().DurationVar(&interval, "interval", 0, "delay between scheduler ticks")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum number of in-flight fetches")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "per-request timeout")
	rootCmd.Flags().IntVar(&maxDepth, "max-depth", 0, "maximum link depth from the seed (0 means unlimited)")
	rootCmd.Flags().BoolVar(&respectRobots, "respect-robots", true, "honor robots.txt disallow rules")
	rootCmd.Flags().BoolVar(&filterByDomain, "filter-by-domain", true, "restrict discovered links to the seed's domain")
	rootCmd.Flags().BoolVar(&scanSubdomains, "scan-subdomains", false, "treat subdomains of the seed's domain as in-domain")
	rootCmd.Flags().BoolVar(&ignoreWWWDomain, "ignore-www", true, "treat example.com and www.example.com as the same domain")
	rootCmd.Flags().StringSliceVar(&domainWhitelist, "allow-domain", nil, "additional domain allowed alongside the seed's (repeatable)")
	rootCmd.Flags().StringSliceVar(&supportedMimeTypes, "mime-type", nil, "MIME type pattern eligible for link extraction (repeatable, regex)")
	rootCmd.Flags().BoolVar(&decompress, "decompress", true, "decompress gzip/deflate responses before delivering them")
	rootCmd.Flags().BoolVar(&decode, "decode", false, "transcode non-UTF-8 charsets to UTF-8 before extraction")
	rootCmd.Flags().BoolVar(&useEnv, "from-env", false, "seed configuration from GOCRAWL_* environment variables first")
	rootCmd.Flags().BoolVar(&printDiscoveries, "print-discoveries", true, "log each page's discovered links via the default messaging.ChannelQueue results sink")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
