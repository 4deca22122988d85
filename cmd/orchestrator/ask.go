package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// newAskCmd is a thin SSE client: it posts a question to a running
// orchestrator's /ask endpoint and prints each event line as it arrives,
// for operators exercising the server from a terminal instead of a UI.
func newAskCmd() *cobra.Command {
	var server, callerID string
	var introspect bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against a running orchestrator and stream the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(askRequest{
				Question:   args[0],
				CallerID:   callerID,
				Introspect: introspect,
			})
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, strings.TrimRight(server, "/")+"/ask", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("orchestrator returned %s", resp.Status)
			}

			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					continue
				}
				fmt.Println(line)
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8090", "orchestrator base URL")
	cmd.Flags().StringVar(&callerID, "caller", "cli", "caller id to attribute the question to")
	cmd.Flags().BoolVar(&introspect, "introspect", false, "force schema introspection before planning")
	return cmd
}
