package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/finagent/pkg/models"
)

// buildChatCmd creates the "chat" command: an interactive WebSocket client
// against a running gateway.
func buildChatCmd() *cobra.Command {
	var (
		host      string
		port      int
		agentType string
		profile   string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively with an agent over WebSocket",
		Long: `Open an interactive chat session against a running gateway.

Type a message and press enter to send it. When the agent requests
feedback, answer inline. Type 'exit' or 'quit' to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			uri := fmt.Sprintf("ws://%s:%d/ws/chat", host, port)
			return runChat(uri, agentType, profile)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Server host")
	cmd.Flags().IntVar(&port, "port", 8000, "Server port")
	cmd.Flags().StringVar(&agentType, "agent", "SingleAssistantShadow", "Agent type")
	cmd.Flags().StringVar(&profile, "profile", "Expert_Investor", "Agent profile")

	return cmd
}

type chatClientFrame struct {
	Type        string              `json:"type"`
	AgentType   string              `json:"agent_type,omitempty"`
	AgentConfig *models.AgentConfig `json:"agent_config,omitempty"`
	Content     string              `json:"content,omitempty"`
}

type chatServerFrame struct {
	SessionID string          `json:"session_id"`
	Message   *models.Message `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func runChat(uri, agentType, profile string) error {
	conn, _, err := websocket.DefaultDialer.Dial(uri, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", uri, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(&chatClientFrame{
		Type:        "config",
		AgentType:   agentType,
		AgentConfig: &models.AgentConfig{Profile: profile},
	}); err != nil {
		return fmt.Errorf("send config: %w", err)
	}

	fmt.Printf("Connected to %s (agent %s). Type 'exit' to leave.\n", uri, agentType)
	stdin := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("\nYou> ")
		if !stdin.Scan() {
			return nil
		}
		input := strings.TrimSpace(stdin.Text())
		if isExit(input) {
			return nil
		}
		if input == "" {
			continue
		}
		if err := sendText(conn, input); err != nil {
			return err
		}
		if done, err := receiveUntilIdle(conn, stdin); done || err != nil {
			return err
		}
	}
}

// receiveUntilIdle prints server frames until the agent finishes its turn.
// Input requests are answered inline; answering exit/quit ends the session.
// After an assistant reply it waits briefly for a follow-up input request
// before handing the prompt back, since scripted agents never send one.
func receiveUntilIdle(conn *websocket.Conn, stdin *bufio.Scanner) (bool, error) {
	settling := false
	for {
		if settling {
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		} else {
			_ = conn.SetReadDeadline(time.Time{})
		}
		var frame chatServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if settling && isTimeout(err) {
				_ = conn.SetReadDeadline(time.Time{})
				return false, nil
			}
			return false, fmt.Errorf("connection closed: %w", err)
		}
		if frame.Error != "" {
			fmt.Printf("\n[error] %s\n", frame.Error)
			return false, nil
		}
		msg := frame.Message
		if msg == nil {
			continue
		}

		switch {
		case msg.IsRequestReply():
			settling = false
			_ = conn.SetReadDeadline(time.Time{})
			fmt.Printf("\n[input requested] %s\n", msg.Content)
			fmt.Print("Your response> ")
			if !stdin.Scan() {
				return true, nil
			}
			answer := strings.TrimSpace(stdin.Text())
			if err := sendText(conn, answer); err != nil {
				return false, err
			}
			if isExit(answer) || answer == "" {
				return true, nil
			}
		case msg.IsToolCall():
			for _, call := range msg.ToolCalls {
				fmt.Printf("\n[tool call] %s %s\n", call.Name, compactJSON(call.Input))
			}
		case msg.Role == models.RoleTool:
			for _, result := range msg.ToolResults {
				fmt.Printf("\n[tool result] %s\n", result.Content)
			}
		case msg.Role == models.RoleAssistant && strings.TrimSpace(msg.Content) != "":
			fmt.Printf("\nAssistant> %s\n", msg.Content)
			settling = true
		case msg.Role == models.RoleUser:
			// Own message echoed back; skip.
		default:
			if strings.TrimSpace(msg.Content) != "" {
				fmt.Printf("\n[%s] %s\n", msg.Role, msg.Content)
			}
		}
	}
}

func sendText(conn *websocket.Conn, text string) error {
	if err := conn.WriteJSON(&chatClientFrame{Type: "message", Content: text}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func isExit(input string) bool {
	lowered := strings.ToLower(input)
	return lowered == "exit" || lowered == "quit"
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
