// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Describe a model directory",
	Long: `Verify and load the model in --model-dir, then print its manifest,
intents, slots and entities.

Examples:
  parley inspect --model-dir ./engine`,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	engine, manifest, err := loadEngine(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer engine.Close()
	m := engine.Model()

	fmt.Printf("Model:    %s\n", manifest.Name)
	if manifest.Description != "" {
		fmt.Printf("Description: %s\n", manifest.Description)
	}
	fmt.Printf("Version:  %s\n", m.Version)
	fmt.Printf("Language: %s\n", m.Language)
	if manifest.Provenance != nil {
		fmt.Printf("Created:  %s by %s\n", manifest.Provenance.CreatedAt, manifest.Provenance.CreatedBy)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tSIZE\tDIGEST")
	var total int64
	for _, f := range manifest.Files {
		total += f.Size
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, formatBytes(f.Size), f.Digest)
	}
	_ = w.Flush()
	fmt.Printf("Total size: %s\n\n", formatBytes(total))

	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INTENT\tSLOTS\tPATTERNS")
	for _, name := range m.IntentNames() {
		var slotList []string
		if im, ok := m.Intents[name]; ok {
			for slot, entity := range im.Slots {
				slotList = append(slotList, slot+":"+entity)
			}
			sort.Strings(slotList)
		}
		patternCount := 0
		if m.Patterns != nil {
			patternCount = len(m.Patterns.Intents[name])
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", name, orDash(strings.Join(slotList, ", ")), patternCount)
	}
	_ = w.Flush()
	fmt.Println()

	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ENTITY\tKIND\tVALUES\tTHRESHOLD\tEXTENSIBLE")
	for _, name := range m.CustomEntities() {
		threshold := "-"
		if g, ok := m.Gazetteer(name); ok {
			threshold = fmt.Sprintf("%.2f", g.Threshold())
		}
		_, _ = fmt.Fprintf(w, "%s\tcustom\t%d\t%s\t%t\n", name, len(m.Entities[name].Values), threshold, m.Extensible(name))
	}
	for _, name := range m.Builtins {
		_, _ = fmt.Fprintf(w, "%s\tbuiltin\t-\t-\t-\n", name)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatBytes formats bytes as a human-readable string
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
