package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/finagent/pkg/models"
)

// buildSessionsCmd creates the "sessions" command group for admin calls
// against a running gateway.
func buildSessionsCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage sessions on a running gateway",
	}
	cmd.PersistentFlags().StringVar(&host, "host", "127.0.0.1", "Server host")
	cmd.PersistentFlags().IntVar(&port, "port", 8000, "Server port")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSessions(fmt.Sprintf("http://%s:%d", host, port))
		},
	}

	endCmd := &cobra.Command{
		Use:   "end <session-id>",
		Short: "Terminate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return endSession(fmt.Sprintf("http://%s:%d", host, port), args[0])
		},
	}

	cmd.AddCommand(listCmd, endCmd)
	return cmd
}

var adminClient = &http.Client{Timeout: 10 * time.Second}

func listSessions(baseURL string) error {
	resp, err := adminClient.Get(baseURL + "/sessions")
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("list sessions: server returned %d", resp.StatusCode)
	}

	var payload struct {
		Sessions []*models.Session `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if len(payload.Sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, s := range payload.Sessions {
		fmt.Printf("%s  %-24s  created %s\n",
			s.ID, s.AgentType, s.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func endSession(baseURL, id string) error {
	req, err := http.NewRequest(http.MethodDelete, baseURL+"/session/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := adminClient.Do(req)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Printf("session %s ended\n", id)
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("session %s not found", id)
	default:
		return fmt.Errorf("end session: server returned %d", resp.StatusCode)
	}
}
