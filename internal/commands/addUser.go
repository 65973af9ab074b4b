package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"studiodesk/internal/api"
	"studiodesk/internal/config"
	"studiodesk/internal/models"
)

// AddUser creates a user through the admin API of a running server and prints
// the new user id and session token.
func AddUser(name string, role models.Role, cfg *config.Config) error {
	reqBody, err := json.Marshal(api.AddUserRequest{Name: name, Role: role})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/users", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add user (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.AddUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("User ID:    %s\n", result.UserID)
	fmt.Printf("Expires:    %s\n", result.ExpiresAt.Format("2006-01-02 15:04"))
	fmt.Printf("Token:      %s\n", result.Token)
	fmt.Printf("Login link: %s\n\n", result.LoginLink)
	fmt.Println("Share the token with the user. It is valid until it expires or is revoked.")
	return nil
}
