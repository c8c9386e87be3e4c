package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"critline/fold"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <html-file> <path>",
	Short: "Resolve a structural path or boundary pair against saved HTML",
	Long: `Resolve a structural path against a server-rendered HTML file. A
boundary pair such as div[2]:div[4] resolves both ends.

Examples:
  critline resolve page.html 'div[@id="main"]/section[3]'
  critline resolve page.html div[2]:div[4]`,
	Args: cobra.ExactArgs(2),
	RunE: runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	tree, err := fold.ParseHTML(f)
	if err != nil {
		return err
	}

	start, end, pair := strings.Cut(args[1], ":")
	out := cmd.OutOrStdout()
	if err := resolveOne(out, tree, "start", start); err != nil {
		return err
	}
	if pair && end != "" {
		return resolveOne(out, tree, "end", end)
	}
	return nil
}

func resolveOne(w io.Writer, tree *fold.Tree, label, path string) error {
	n, err := fold.DecodePath(tree, path, tree.Body())
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	fmt.Fprintf(w, "%s\t%s\t%s\n", label, path, describe(n))
	return nil
}

// describe renders n as an opening tag.
func describe(n fold.Node) string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(n.Tag())
	if al, ok := n.(fold.AttrLister); ok {
		for _, a := range al.Attrs() {
			fmt.Fprintf(&b, " %s=%q", a.Key, a.Val)
		}
	}
	b.WriteString(">")
	return b.String()
}
