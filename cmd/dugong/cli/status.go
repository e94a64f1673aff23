package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether a dugong server is up and ready",
		Long:  "Query the liveness and readiness probes of a running server. The address defaults to the configured host and port.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(url)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Base URL of the server (default http://<server.host>:<server.port>)")

	return cmd
}

func runStatus(baseURL string) error {
	if baseURL == "" {
		port := viper.GetInt("server.port")
		if port == 0 {
			port = 8080
		}
		host := viper.GetString("server.host")
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		baseURL = fmt.Sprintf("http://%s:%d", host, port)
	}

	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(baseURL + "/healthz")
	if err != nil {
		return fmt.Errorf("server at %s is not responding: %w", baseURL, err)
	}
	resp.Body.Close()
	fmt.Printf("Server is running at %s\n", baseURL)
	fmt.Printf("  Health:  %d\n", resp.StatusCode)

	resp, err = client.Get(baseURL + "/readyz")
	if err != nil {
		return fmt.Errorf("readiness probe: %w", err)
	}
	defer resp.Body.Close()

	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		return fmt.Errorf("decode readiness response: %w", err)
	}
	fmt.Printf("  Ready:   %s (%d)\n", ready.Status, resp.StatusCode)
	for name, state := range ready.Checks {
		fmt.Printf("    %-8s %s\n", name+":", state)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server is not ready")
	}
	return nil
}
