package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mlsmithjr/transcoder/pkg/cluster"
	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/models"
)

var hostsCheck bool

// hostsCmd represents the hosts command
var hostsCmd = &cobra.Command{
	Use:   "hosts [cluster...]",
	Short: "List cluster hosts",
	Long:  `Show every host of the named clusters (all clusters by default), optionally checking that each enabled host is reachable.`,
	RunE:  runHosts,
}

func init() {
	rootCmd.AddCommand(hostsCmd)
	hostsCmd.Flags().BoolVar(&hostsCheck, "check", false, "run each enabled host's pre-flight check")
}

func runHosts(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	clusters, err := cfg.Hosts()
	if err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		names = cfg.ClusterNames()
	}

	table := tablewriter.NewWriter(os.Stdout)
	header := []any{"Cluster", "Host", "Type", "Status", "Address", "OS", "Queues"}
	if hostsCheck {
		header = append(header, "Check")
	}
	table.Header(header...)

	for _, name := range names {
		hosts, ok := clusters[name]
		if !ok {
			return fmt.Errorf("%w: cluster %q not defined", cluster.ErrConfig, name)
		}

		var checks map[string]string
		if hostsCheck {
			checks = checkHosts(context.Background(), name, hosts, cluster.RunOptions{
				IdentityFile:     cfg.Identity,
				KnownHosts:       cfg.KnownHosts,
				InsecureHostKeys: cfg.InsecureHosts,
			}, logger)
		}

		hostNames := make([]string, 0, len(hosts))
		for h := range hosts {
			hostNames = append(hostNames, h)
		}
		sort.Strings(hostNames)
		for _, h := range hostNames {
			host := hosts[h]
			row := []string{name, h, string(host.Kind), host.Status, host.Address, host.TargetOS(), formatQueues(host)}
			if hostsCheck {
				row = append(row, checks[h])
			}
			if err := table.Append(row); err != nil {
				return err
			}
		}
	}
	return table.Render()
}

// checkHosts runs one pre-flight check per enabled host
func checkHosts(ctx context.Context, name string, hosts map[string]*models.HostProfile, opts cluster.RunOptions, logger *logging.Logger) map[string]string {
	out := make(map[string]string, len(hosts))
	for h, host := range hosts {
		if !host.Enabled() {
			out[h] = "-"
		}
	}

	c, err := cluster.New(name, hosts, nil, nil, nil, &cluster.Env{
		Options: opts,
		Logger:  logger,
	})
	if err != nil {
		for h := range hosts {
			if out[h] == "" {
				out[h] = err.Error()
			}
		}
		return out
	}

	for _, w := range c.Workers() {
		h := w.Host().Name
		if out[h] != "" {
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := w.Check(checkCtx); err != nil {
			out[h] = strings.TrimSpace(err.Error())
		} else {
			out[h] = "ok"
		}
		cancel()
	}
	return out
}

func formatQueues(host *models.HostProfile) string {
	var parts []string
	slots := host.QueueSlots()
	for _, q := range host.QueueNames() {
		parts = append(parts, fmt.Sprintf("%s:%d", q, slots[q]))
	}
	return strings.Join(parts, ", ")
}
