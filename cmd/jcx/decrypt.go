package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/ternarybob/jcx/internal/credentials"
	"github.com/ternarybob/jcx/internal/models"
	"github.com/ternarybob/jcx/internal/services/decrypt"
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt credentials from a credentials.xml file",
	Long: `Reads encrypted entries from a local credentials.xml, decrypts them on the
selected Jenkins server and writes "<secret> <username or id>" lines in file order.
The output file is created with mode 0600.`,
	RunE: runDecrypt,
}

var (
	decryptFile          string
	decryptPattern       string
	decryptKinds         []string
	decryptIncludeSystem bool
	decryptOutput        string
	decryptStrategy      string
	decryptSequential    bool
	decryptList          bool
)

func init() {
	decryptCmd.Flags().StringVarP(&decryptFile, "file", "f", "credentials.xml", "Local credentials.xml path")
	decryptCmd.Flags().StringVarP(&decryptPattern, "pattern", "p", "", "Only credentials whose description contains this text")
	decryptCmd.Flags().StringSliceVar(&decryptKinds, "kind", nil, "Only these credential kinds: username_password, secret_text, ssh_key (repeatable)")
	decryptCmd.Flags().BoolVar(&decryptIncludeSystem, "include-system", false, "Include credentials owned by the Jenkins installation")
	decryptCmd.Flags().StringVarP(&decryptOutput, "output", "o", "passwords.txt", "Output file")
	decryptCmd.Flags().StringVar(&decryptStrategy, "strategy", "", "Strategy: auto, sequential, parallel, batch")
	decryptCmd.Flags().BoolVar(&decryptSequential, "sequential", false, "Force one request at a time")
	decryptCmd.Flags().BoolVar(&decryptList, "list", false, "List matching credentials without decrypting")
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	kinds, err := credentials.ParseKinds(decryptKinds)
	if err != nil {
		return err
	}

	filter := credentials.Filter{
		Description:   decryptPattern,
		IncludeSystem: decryptIncludeSystem,
		Kinds:         kinds,
	}

	// Without --pattern the operator picks from the descriptions in the file
	var chooser credentials.Prompter
	if prompter != nil && !decryptList {
		chooser = prompter
	}

	entries, err := readEntries(decryptFile, filter, chooser)
	if err != nil {
		return err
	}

	if decryptList {
		printEntries(entries)
		return nil
	}
	if len(entries) == 0 {
		fmt.Println("No matching credentials")
		return nil
	}

	ctx := cmd.Context()
	application, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	p, err := profile(application)
	if err != nil {
		return err
	}

	opts, err := application.DecryptOptions(decryptStrategy, decryptSequential)
	if err != nil {
		return err
	}

	records := credentials.Records(entries)
	stream, err := application.Orchestrator.Run(ctx, records, p, opts)
	if err != nil {
		return fmt.Errorf("decryption could not start: %w", err)
	}

	results := decrypt.Collect(records, stream)
	summary := decrypt.Summarize(results)

	if err := writeResults(decryptOutput, entries, results); err != nil {
		return err
	}

	printSummary(summary, decryptOutput)

	if summary.Decrypted == 0 && summary.Failed > 0 {
		return fmt.Errorf("no credentials were decrypted")
	}
	return nil
}

func readEntries(path string, filter credentials.Filter, chooser credentials.Prompter) ([]credentials.Entry, error) {
	all, err := credentials.ReadFile(path)
	if err != nil {
		return nil, err
	}

	entries, err := credentials.SelectInteractive(all, filter, chooser)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("file", path).
		Str("pattern", filter.Description).
		Int("found", len(all)).
		Int("selected", len(entries)).
		Msg("Credentials read")

	return entries, nil
}

// writeResults writes decrypted secrets in input order
func writeResults(path string, entries []credentials.Entry, results []models.DecryptionResult) error {
	labels := make(map[string]string, len(entries))
	for _, e := range entries {
		labels[e.ID] = e.Label()
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	// An existing file keeps its mode on open
	if err := f.Chmod(0600); err != nil {
		return fmt.Errorf("failed to restrict output file: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, r := range results {
		if !r.OK() {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", r.Plaintext, labels[r.ID]); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func printEntries(entries []credentials.Entry) {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("ID", "KIND", "USERNAME", "DESCRIPTION")
	for _, e := range entries {
		table.AddRow(e.ID, e.Kind, e.Username, e.Description)
	}
	fmt.Println(table)
	fmt.Printf("%s credentials\n", humanize.Comma(int64(len(entries))))
}

func printSummary(summary decrypt.Summary, output string) {
	fmt.Printf("Decrypted %s of %s credentials into %s\n",
		humanize.Comma(int64(summary.Decrypted)),
		humanize.Comma(int64(summary.Total)),
		output)

	if summary.Failed == 0 {
		return
	}

	table := uitable.New()
	table.MaxColWidth = 80
	table.AddRow("ID", "ERROR", "DETAIL")
	for _, r := range summary.Failures {
		table.AddRow(r.ID, r.Kind(), r.Err.Message)
	}
	fmt.Println()
	fmt.Println(table)
}
