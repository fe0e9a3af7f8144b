// Package export renders report groups, reconcile results and port usage as
// table, JSON, YAML or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/tagsweep/internal/engine"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// Format is an output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatCSV   Format = "csv"
)

// Formats lists the accepted format names.
var Formats = []Format{FormatTable, FormatJSON, FormatYAML, FormatCSV}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (want table, json, yaml or csv)", s)
}

type memberDoc struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name,omitempty"`
	Region      string            `yaml:"region,omitempty"`
	Attachment  string            `yaml:"attachment"`
	Owner       string            `yaml:"owner"`
	User        string            `yaml:"user"`
	CreatedDate string            `yaml:"created_date"`
	Attrs       map[string]string `yaml:"attrs,omitempty"`
	Error       string            `yaml:"error,omitempty"`
}

type groupDoc struct {
	Key     string      `yaml:"key"`
	Count   int         `yaml:"count"`
	Members []memberDoc `yaml:"members"`
}

type reconcileDoc struct {
	RunID    string                             `yaml:"run_id"`
	Provider string                             `yaml:"provider"`
	Kind     string                             `yaml:"kind"`
	Tag      string                             `yaml:"tag"`
	DryRun   bool                               `yaml:"dry_run"`
	Summary  map[string]resource.OutcomeSummary `yaml:"summary"`
	Outcomes []resource.Outcome                 `yaml:"outcomes"`
	Unknown  []memberDoc                        `yaml:"unknown"`
}

func member(r resource.Record) memberDoc {
	return memberDoc{
		ID:          r.ID,
		Name:        r.Name,
		Region:      r.Region,
		Attachment:  string(r.Attachment),
		Owner:       r.Owner,
		User:        r.User,
		CreatedDate: r.CreatedDate,
		Attrs:       r.Attrs,
		Error:       r.Error,
	}
}

// WriteReport renders report groups.
func WriteReport(w io.Writer, format Format, groups []resource.Group[resource.Record]) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, groups)
	case FormatYAML:
		docs := make([]groupDoc, 0, len(groups))
		for _, g := range groups {
			d := groupDoc{Key: g.Key, Count: g.Count(), Members: make([]memberDoc, 0, g.Count())}
			for _, m := range g.Members {
				d.Members = append(d.Members, member(m))
			}
			docs = append(docs, d)
		}
		return writeYAML(w, docs)
	case FormatCSV:
		return reportCSV(w, groups)
	case FormatTable, "":
		return reportTable(w, groups)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// WriteReconcile renders a reconcile result.
func WriteReconcile(w io.Writer, format Format, result *engine.ReconcileResult) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatYAML:
		doc := reconcileDoc{
			RunID:    result.RunID,
			Provider: result.Provider,
			Kind:     string(result.Kind),
			Tag:      result.Tag,
			DryRun:   result.DryRun,
			Summary:  result.Summary(),
			Outcomes: result.Outcomes,
			Unknown:  make([]memberDoc, 0, len(result.Unknown)),
		}
		for _, r := range result.Unknown {
			doc.Unknown = append(doc.Unknown, member(r))
		}
		return writeYAML(w, doc)
	case FormatCSV:
		return reconcileCSV(w, result)
	case FormatTable, "":
		return reconcileTable(w, result)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// WritePorts renders targets registered on many ports.
func WritePorts(w io.Writer, format Format, usage []resource.PortUsage) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, usage)
	case FormatYAML:
		return writeYAML(w, usage)
	case FormatCSV:
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"target_group_name", "region", "instance_id", "num_ports", "ports"})
		for _, u := range usage {
			_ = cw.Write([]string{u.TargetGroup, u.Region, u.TargetID, strconv.Itoa(u.NumPorts()), joinPorts(u.Ports)})
		}
		cw.Flush()
		return cw.Error()
	case FormatTable, "":
		if len(usage) == 0 {
			_, _ = fmt.Fprintln(w, "No targets over the port threshold.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "TARGET GROUP\tREGION\tINSTANCE\tPORTS\tLIST")
		_, _ = fmt.Fprintln(tw, "------------\t------\t--------\t-----\t----")
		for _, u := range usage {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", u.TargetGroup, u.Region, u.TargetID, u.NumPorts(), joinPorts(u.Ports))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func joinPorts(ports []int32) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(int(p))
	}
	return strings.Join(parts, ",")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func reportTable(w io.Writer, groups []resource.Group[resource.Record]) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KEY\tID\tNAME\tATTACHMENT\tOWNER\tUSER\tCREATED")
	_, _ = fmt.Fprintln(tw, "---\t--\t----\t----------\t-----\t----\t-------")
	for _, g := range groups {
		for _, m := range g.Members {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				g.Key, m.ID, m.Name, m.Attachment, m.Owner, m.User, m.CreatedDate)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "\n%d resources in %d groups\n", resource.Total(groups), len(groups))
	for _, g := range groups {
		_, _ = fmt.Fprintf(w, "   %s: %d\n", g.Key, g.Count())
	}
	return nil
}

func reportCSV(w io.Writer, groups []resource.Group[resource.Record]) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"key", "id", "name", "region", "attachment", "owner", "user", "created_date", "error"})
	for _, g := range groups {
		for _, m := range g.Members {
			_ = cw.Write([]string{g.Key, m.ID, m.Name, m.Region, string(m.Attachment), m.Owner, m.User, m.CreatedDate, m.Error})
		}
	}
	cw.Flush()
	return cw.Error()
}

func reconcileTable(w io.Writer, result *engine.ReconcileResult) error {
	mode := "live"
	if result.DryRun {
		mode = "dry run"
	}
	_, _ = fmt.Fprintf(w, "Run %s (%s, %s %s by %s)\n\n", result.RunID, mode, result.Provider, result.Kind, result.Tag)

	if len(result.Outcomes) == 0 {
		_, _ = fmt.Fprintln(w, "No detached resources.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "KEY\tRESOURCE\tACTION\tSTATUS\tDETAIL")
		_, _ = fmt.Fprintln(tw, "---\t--------\t------\t------\t------")
		for _, g := range result.OutcomeGroups() {
			for _, o := range g.Members {
				detail := o.ErrorDetail
				if detail == "" {
					detail = o.Reason
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", g.Key, o.ResourceID, o.Action, o.Status, detail)
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	summary := result.Summary()
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		_, _ = fmt.Fprintln(w, "\nSummary:")
	}
	for _, k := range keys {
		s := summary[k]
		_, _ = fmt.Fprintf(w, "   %s: %d succeeded, %d failed, %d skipped, %d protected\n",
			k, s.Succeeded, s.Failed, s.Skipped, s.Protected)
	}
	if len(result.Unknown) > 0 {
		_, _ = fmt.Fprintf(w, "\n%d resources could not be resolved and were left alone:\n", len(result.Unknown))
		for _, r := range result.Unknown {
			_, _ = fmt.Fprintf(w, "   %s: %s\n", r.ID, r.Error)
		}
	}
	return nil
}

func reconcileCSV(w io.Writer, result *engine.ReconcileResult) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"run_id", "dry_run", "key", "resource_id", "kind", "action", "status", "error_detail", "reason"})
	dry := strconv.FormatBool(result.DryRun)
	for _, o := range result.Outcomes {
		_ = cw.Write([]string{result.RunID, dry, o.Key, o.ResourceID, string(o.Kind), o.Action, string(o.Status), o.ErrorDetail, o.Reason})
	}
	cw.Flush()
	return cw.Error()
}
