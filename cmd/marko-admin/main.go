// ABOUTME: Admin CLI for marko-gateway accounts and conversations
// ABOUTME: Talks to the gateway HTTP API with bearer-token authentication

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
                      _                    _           _
 _ __ ___   __ _ _ __| | _____         __ _| | _ __ ___ (_)_ __
| '_ ' _ \ / _' | '__| |/ / _ \ _____ / _' | |/ '_ ' _ \| | '_ \
| | | | | | (_| | |  |   < (_) |_____| (_| | || | | | | | | | | |
|_| |_| |_|\__,_|_|  |_|\_\___/       \__,_|_||_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("MARKO_GATEWAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	token := getToken()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "me":
		err = cmdMe(baseURL, token)
	case "status":
		err = cmdStatus(baseURL, token)
	case "conversations":
		err = cmdConversations(baseURL, token)
	case "history":
		err = cmdHistory(baseURL, token, args)
	case "chat":
		err = cmdChat(baseURL, token, args)
	case "publishes":
		err = cmdPublishes(baseURL, token, args)
	case "social":
		err = cmdSocial(baseURL, token)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: marko-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  me                      Show your account")
	fmt.Println("  status                  Show gateway status and your identity")
	fmt.Println("  conversations           List your conversations")
	fmt.Println("  history <id>            Show a conversation's messages")
	fmt.Println("  chat [conv-id] [msg]    Send a message (REPL if no message)")
	fmt.Println("  publishes <message-id>  List publish attempts for a message")
	fmt.Println("  social                  Show social connection status")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  MARKO_GATEWAY_URL       Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  MARKO_TOKEN             Bearer token (falls back to ~/.config/marko/token)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export MARKO_TOKEN=\"eyJhbG...\"")
	fmt.Println("  marko-admin me")
	fmt.Println("  marko-admin chat \"\" \"Draft a launch post for our new blend\"")
	fmt.Println()
}

func getToken() string {
	if token := os.Getenv("MARKO_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "marko", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// apiCall makes an authenticated request and decodes the JSON response into out.
func apiCall(baseURL, token, method, path string, body, out any) error {
	if token == "" {
		return fmt.Errorf("MARKO_TOKEN environment variable is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			if apiErr.Kind != "" {
				return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Kind)
			}
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

type accountView struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Company string `json:"company"`
}

type messageView struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Seq     int64  `json:"seq"`
}

type conversationView struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	UpdatedAt string        `json:"updated_at"`
	Messages  []messageView `json:"messages"`
}

type sendView struct {
	ConversationID string      `json:"conversation_id"`
	Message        messageView `json:"message"`
	Response       messageView `json:"response"`
}

func cmdMe(baseURL, token string) error {
	var account accountView
	if err := apiCall(baseURL, token, http.MethodGet, "/api/auth/me", nil, &account); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)

	fmt.Println()
	cyan.Println("  Account")
	cyan.Println("  -------")
	fmt.Printf("  ID:      %s\n", account.ID)
	fmt.Printf("  Email:   %s\n", account.Email)
	if account.Name != "" {
		fmt.Printf("  Name:    %s\n", account.Name)
	}
	if account.Company != "" {
		fmt.Printf("  Company: %s\n", account.Company)
	}
	fmt.Println()

	return nil
}

func cmdStatus(baseURL, token string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		yellow.Printf("  Gateway:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}
	resp.Body.Close()

	green.Printf("  Gateway:  ")
	fmt.Printf("connected to %s\n", baseURL)

	if token != "" {
		var account accountView
		if err := apiCall(baseURL, token, http.MethodGet, "/api/auth/me", nil, &account); err != nil {
			yellow.Printf("  Identity: ")
			color.Red("auth failed (%v)\n", err)
		} else {
			green.Printf("  Identity: ")
			fmt.Printf("%s (%s)\n", account.Email, account.ID)
		}
	} else {
		yellow.Printf("  Identity: ")
		fmt.Println("(no token - set MARKO_TOKEN)")
	}

	fmt.Println()
	return nil
}

func cmdConversations(baseURL, token string) error {
	var convs []conversationView
	if err := apiCall(baseURL, token, http.MethodGet, "/api/chat/conversations", nil, &convs); err != nil {
		return err
	}

	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tUPDATED")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Title, c.UpdatedAt)
	}
	return w.Flush()
}

func cmdHistory(baseURL, token string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: marko-admin history <conversation-id>")
	}

	var conv conversationView
	if err := apiCall(baseURL, token, http.MethodGet, "/api/chat/conversations/"+args[0], nil, &conv); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	fmt.Println()
	cyan.Printf("  %s\n", conv.Title)
	fmt.Println()
	for _, m := range conv.Messages {
		if m.Role == "user" {
			green.Printf("  you> ")
		} else {
			cyan.Printf("  marko> ")
		}
		fmt.Println(m.Content)
	}
	fmt.Println()

	return nil
}

// cmdChat sends one message, or drops into a REPL when no message is given.
// An empty conversation ID starts a new conversation.
func cmdChat(baseURL, token string, args []string) error {
	var convID string
	if len(args) > 0 {
		convID = args[0]
	}

	if len(args) > 1 {
		return sendOne(baseURL, token, &convID, strings.Join(args[1:], " "))
	}

	cyan := color.New(color.FgCyan)
	cyan.Println("Chat REPL. Ctrl-D to exit.")

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("you> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := sendOne(baseURL, token, &convID, line); err != nil {
			color.Red("Error: %v\n", err)
		}
	}
}

func sendOne(baseURL, token string, convID *string, text string) error {
	body := map[string]string{"message": text}
	if *convID != "" {
		body["conversation_id"] = *convID
	}

	var result sendView
	if err := apiCall(baseURL, token, http.MethodPost, "/api/chat/send", body, &result); err != nil {
		return err
	}
	*convID = result.ConversationID

	cyan := color.New(color.FgCyan)
	cyan.Print("marko> ")
	fmt.Println(result.Response.Content)
	return nil
}

func cmdPublishes(baseURL, token string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: marko-admin publishes <message-id>")
	}

	var attempts []struct {
		ID           string `json:"id"`
		Platform     string `json:"platform"`
		Status       string `json:"status"`
		RemotePostID string `json:"remote_post_id"`
		ErrorDetail  string `json:"error_detail"`
		CreatedAt    string `json:"created_at"`
	}
	if err := apiCall(baseURL, token, http.MethodGet, "/api/messages/"+args[0]+"/publishes", nil, &attempts); err != nil {
		return err
	}

	if len(attempts) == 0 {
		fmt.Println("No publish attempts.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLATFORM\tSTATUS\tPOST\tERROR\tCREATED")
	for _, a := range attempts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Platform, a.Status, a.RemotePostID, a.ErrorDetail, a.CreatedAt)
	}
	return w.Flush()
}

func cmdSocial(baseURL, token string) error {
	var status struct {
		Connected      bool   `json:"connected"`
		PlatformHandle string `json:"platform_handle"`
	}
	if err := apiCall(baseURL, token, http.MethodGet, "/api/social/status", nil, &status); err != nil {
		return err
	}

	if status.Connected {
		color.Green("Connected as @%s\n", status.PlatformHandle)
	} else {
		color.Yellow("Not connected\n")
	}
	return nil
}
