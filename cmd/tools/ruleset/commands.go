package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"emergency-admission/internal/common/config"
	"emergency-admission/internal/common/logger"
	"emergency-admission/internal/facility"
	"emergency-admission/internal/models"
	"emergency-admission/internal/triage"
)

var tierColors = map[models.Tier]*color.Color{
	models.TierCritical: color.New(color.FgRed, color.Bold),
	models.TierHigh:     color.New(color.FgYellow),
	models.TierModerate: color.New(color.FgCyan),
	models.TierLow:      color.New(color.FgGreen),
}

func colorTier(t models.Tier) string {
	if c, ok := tierColors[t]; ok {
		return c.Sprint(strings.ToUpper(t.String()))
	}
	return t.String()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ruleset",
		Short:         "Inspect and test triage rule files",
		Long:          "ruleset validates triage rule files, classifies sample incidents against them and lists the configured scoring regions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(validateCmd())
	root.AddCommand(classifyCmd())
	root.AddCommand(regionsCmd())
	return root
}

func loadRules(path string) (models.RuleSet, error) {
	if path == "" {
		return triage.DefaultRuleSet(), nil
	}
	return triage.LoadRuleSetFile(path)
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a rule file for duplicate ids, bad tiers and empty rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			rs, err := triage.LoadRuleSetFile(args[0])
			if err != nil {
				fmt.Fprintf(out, "%s %s\n", color.New(color.FgRed).Sprint("INVALID"), args[0])
				return err
			}
			if err := triage.ValidateRuleSet(rs); err != nil {
				fmt.Fprintf(out, "%s %s\n", color.New(color.FgRed).Sprint("INVALID"), args[0])
				return err
			}

			fmt.Fprintf(out, "%s %s (version %s, %d rules)\n",
				color.New(color.FgGreen).Sprint("OK"), args[0], rs.Version, len(rs.Rules))
			printRules(out, rs)
			return nil
		},
	}
}

func printRules(out io.Writer, rs models.RuleSet) {
	rules := append([]models.Rule(nil), rs.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tID\tTIER\tMATCHES")
	for _, r := range rules {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Priority, r.ID, colorTier(r.Tier), describeMatch(r))
	}
	w.Flush()
}

func describeMatch(r models.Rule) string {
	var parts []string
	add := func(name, v string) {
		if v != "" {
			parts = append(parts, name+"="+v)
		}
	}
	add("category", r.Category)
	add("status", r.Status)
	add("age", r.AgeBracket)
	add("transport", r.TransportMode)
	if len(r.Keywords) > 0 {
		parts = append(parts, "keywords="+strings.Join(r.Keywords, ","))
	}
	return strings.Join(parts, " ")
}

func classifyCmd() *cobra.Command {
	var (
		file string
		sub  models.Submission
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a sample incident against a rule file",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := loadRules(file)
			if err != nil {
				return err
			}
			classifier, err := triage.NewClassifier(rs, triage.Options{}, logger.NewNoOpLogger())
			if err != nil {
				return err
			}

			sub.ID = "cli"
			res := classifier.Classify(sub)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tier:        %s\n", colorTier(res.Tier))
			fmt.Fprintf(out, "method:      %s\n", res.Method)
			fmt.Fprintf(out, "confidence:  %.2f\n", res.Confidence)
			if res.RuleID != "" {
				fmt.Fprintf(out, "rule:        %s\n", res.RuleID)
			}
			fmt.Fprintf(out, "max wait:    %s\n", res.MaxWait)
			for _, line := range res.Explanation {
				fmt.Fprintf(out, "  - %s\n", line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "rule file (defaults to the built-in rules)")
	cmd.Flags().StringVar(&sub.Description, "description", "", "free-text description")
	cmd.Flags().StringVar(&sub.Category, "category", "", "incident category")
	cmd.Flags().StringVar(&sub.Status, "status", "", "patient status")
	cmd.Flags().StringVar(&sub.AgeBracket, "age", "", "age bracket (infant, child, adult, senior)")
	cmd.Flags().StringVar(&sub.TransportMode, "transport", "", "transport mode (ambulance, private, walk-in)")
	return cmd
}

func regionsCmd() *cobra.Command {
	var (
		configPath string
		seedFile   string
	)
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "List scoring regions and the facilities inside each",
		RunE: func(cmd *cobra.Command, args []string) error {
			regions := config.DefaultRegions()
			if configPath != "" {
				cfg, err := config.LoadFromFile(configPath)
				if err != nil {
					return err
				}
				regions = cfg.Scoring.Regions
			}

			var facilities []models.FacilityRecord
			if seedFile != "" {
				var err error
				if facilities, err = facility.LoadSeedFile(seedFile); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REGION\tCENTER\tRADIUS_KM\tBONUS\tFACILITIES")
			for _, r := range regions {
				center := models.GeoPoint{Latitude: r.Latitude, Longitude: r.Longitude}
				var inside []string
				for _, f := range facilities {
					if facility.HaversineKM(center, f.Location) <= r.RadiusKM {
						inside = append(inside, f.ID)
					}
				}
				fmt.Fprintf(w, "%s\t%.4f,%.4f\t%.1f\t%.1f\t%s\n",
					r.Name, r.Latitude, r.Longitude, r.RadiusKM, r.Bonus, strings.Join(inside, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file to read scoring.regions from")
	cmd.Flags().StringVar(&seedFile, "facilities", "", "facility seed file to place into regions")
	return cmd
}
