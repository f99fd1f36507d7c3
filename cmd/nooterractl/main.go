// nooterractl is the thin command-line surface over the verification kernel.
// It reads bundle files and trust anchors, runs the verifier, prints a
// single-line JSON summary and translates the outcome into an exit code:
// 0 pass, 1 verification failure, 2 usage or I/O error.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nooterra/nooterra-sub010/internal/anchors"
	"github.com/nooterra/nooterra-sub010/pkg/bundle"
	"github.com/nooterra/nooterra-sub010/pkg/governance"
	"github.com/nooterra/nooterra-sub010/pkg/verify"
)

const toolVersion = "0.1.0"

type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func main() {
	root := &cobra.Command{
		Use:           "nooterractl",
		Short:         "settlement and verification kernel tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newVerifyCmd())

	if err := root.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		failSummary("", err.Error())
		os.Exit(2)
	}
}

func newVerifyCmd() *cobra.Command {
	var (
		bundleDir      string
		anchorsPath    string
		kind           string
		strict         bool
		failOnWarnings bool
		concurrency    int
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "verify a bundle directory against its manifest and governance chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			bundleDir = strings.TrimSpace(bundleDir)
			if bundleDir == "" {
				failSummary("", "--bundle is required")
				return exitError{2}
			}

			var trust governance.Anchors
			if p := strings.TrimSpace(anchorsPath); p != "" {
				var err error
				trust, err = anchors.Load(p)
				if err != nil {
					failSummary(bundleDir, "load anchors failed: "+err.Error())
					return exitError{2}
				}
			}

			result := verify.Bundle(verify.Input{
				Kind:           verify.Kind(kind),
				Strict:         strict,
				FailOnWarnings: failOnWarnings,
				Read: func(path string) ([]byte, error) {
					return os.ReadFile(filepath.Join(bundleDir, filepath.FromSlash(path)))
				},
				IsSymlink: func(path string) (bool, error) {
					fi, err := os.Lstat(filepath.Join(bundleDir, filepath.FromSlash(path)))
					if err != nil {
						return false, err
					}
					return fi.Mode()&os.ModeSymlink != 0, nil
				},
				Anchors:     trust,
				Concurrency: concurrency,
				Tool:        verify.Tool{Name: "nooterractl", Version: toolVersion},
			})

			printSummary(bundleDir, result)
			if !result.OK {
				return exitError{1}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&bundleDir, "bundle", "", "path to the bundle directory")
	cmd.Flags().StringVar(&anchorsPath, "anchors", "", "path to the YAML trust anchor file")
	cmd.Flags().StringVar(&kind, "kind", string(verify.KindEvidence), "bundle kind: evidence or agreement")
	cmd.Flags().BoolVar(&strict, "strict", false, "treat missing protocol surfaces as hard failures")
	cmd.Flags().BoolVar(&failOnWarnings, "fail-on-warnings", false, "fail verification when warnings are present")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "file hashing concurrency (0 = default)")
	return cmd
}

type summary struct {
	Status    string         `json:"status"`
	Bundle    string         `json:"bundle,omitempty"`
	Errors    []bundle.Issue `json:"errors,omitempty"`
	Warnings  []bundle.Issue `json:"warnings,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp string         `json:"timestampUtc"`
}

func printSummary(bundleDir string, result verify.Result) {
	status := "PASS"
	if !result.OK {
		status = "FAIL"
	}
	writeJSON(summary{
		Status:    status,
		Bundle:    bundleDir,
		Errors:    result.Errors,
		Warnings:  result.Warnings,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func failSummary(bundleDir, reason string) {
	writeJSON(summary{
		Status:    "FAIL",
		Bundle:    bundleDir,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(s summary) {
	b, _ := json.Marshal(s)
	fmt.Println(string(b))
}
