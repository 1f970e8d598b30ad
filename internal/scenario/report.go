package scenario

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

// Write prints the report as indented JSON or as tables.
func (r *Report) Write(w io.Writer, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	child := r.Child
	if child == "" {
		child = "-"
	}
	fmt.Fprintf(w, "parent %s  child %s\n", r.Parent, child)
	if r.ForkError != "" {
		fmt.Fprintf(w, "fork failed: %s\n", r.ForkError)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "\nENV\tOP\tADDR\tDATA\tERROR\n")
	for _, a := range r.Accesses {
		errText := "-"
		if a.Error != "" {
			errText = a.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%q\t%s\n", a.Env, a.Op, a.Addr, a.Data, errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "\nSTAGE\tENV\tADDR\tENTRY\tDIGEST\n")
	for _, s := range r.Snapshots {
		for _, m := range s.Mappings {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Stage, m.Env, m.Addr, m.Entry, m.Digest)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nfree pages: %d\n", r.FreePages)
	return err
}
