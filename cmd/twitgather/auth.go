package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"twitgather/pkg/auth"
	"twitgather/pkg/ui"
)

var quickGuide bool

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Twitter API credentials",
	Long: `Manage stored Twitter API credentials.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read only)

Never share your credentials or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store a credential set securely",
	Long: `Store Twitter API secrets in the system keychain or an encrypted file.

You will be prompted for:
  - A name for this credential set (if not provided)
  - Consumer key and secret, access token and secret (archive mode)
  - Bearer token (stream mode)

Leave the values of a mode you do not use empty.`,
	Example: `  # Interactive login
  twitgather auth login

  # Store under a name
  twitgather auth login research`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [name]",
	Short: "Remove stored credentials",
	Long: `Remove a stored credential set.

If no name is provided, you will be shown a list of stored sets to choose
from. You can also remove all of them at once.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored credential sets",
	Long:  `List all stored credential sets with masked secrets.`,
	Run:   runList,
}

// guideCmd represents the auth guide command
var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Show where to find the API secrets",
	Run: func(cmd *cobra.Command, args []string) {
		if quickGuide {
			auth.ShowQuickTokenGuide()
			return
		}
		auth.ShowTokenGuide()
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
	authCmd.AddCommand(guideCmd)

	guideCmd.Flags().BoolVar(&quickGuide, "quick", false, "show the condensed guide")
}

func runLogin(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}

	var name string
	if len(args) > 0 {
		name = args[0]
	}

	reader := bufio.NewReader(os.Stdin)

	auth.ShowQuickTokenGuide()
	fmt.Println()

	if name == "" {
		fmt.Print("Name for this credential set: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			ui.PrintError("Failed to read name", err.Error())
			os.Exit(1)
		}
		name = strings.TrimSpace(input)
	}

	if name == "" {
		ui.PrintError("Name is required")
		os.Exit(1)
	}

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Printf("\nCredential set '%s' already exists. Update it? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	fmt.Println("\nEnter your secrets (they will be hidden as you type).")
	fmt.Println("Press Enter to skip a value.")
	fmt.Println()

	creds := &auth.Credentials{Name: name, LastModified: time.Now()}
	prompts := []struct {
		label  string
		target *string
	}{
		{"Consumer key (API key)", &creds.ConsumerKey},
		{"Consumer secret (API key secret)", &creds.ConsumerSecret},
		{"Access token", &creds.AccessToken},
		{"Access token secret", &creds.AccessTokenSecret},
		{"Bearer token", &creds.BearerToken},
	}
	for _, p := range prompts {
		fmt.Printf("%s: ", p.label)
		value, err := readPassword(reader)
		if err != nil {
			ui.PrintError("Failed to read "+strings.ToLower(p.label), err.Error())
			os.Exit(1)
		}
		*p.target = value
	}

	sanitized := auth.SanitizeCredentials(creds)
	fmt.Println("\nSummary:")
	fmt.Printf("   Name:                %s\n", sanitized.Name)
	fmt.Printf("   Consumer key:        %s\n", sanitized.ConsumerKey)
	fmt.Printf("   Access token:        %s\n", sanitized.AccessToken)
	fmt.Printf("   Bearer token:        %s\n", sanitized.BearerToken)

	if err := manager.Store(creds); err != nil {
		ui.PrintError("Failed to store credentials", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("\nCredentials saved: " + name)
	if creds.HasOAuth1() {
		fmt.Println("   usable for: archive")
	}
	if creds.BearerToken != "" {
		fmt.Println("   usable for: stream")
	}

	fmt.Println("\nStart collecting with:")
	fmt.Printf("   $ twitgather run --account %s\n", name)
}

func runLogout(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}

	if len(args) > 0 {
		if err := manager.Delete(args[0]); err != nil {
			ui.PrintError("Failed to remove credentials", err.Error())
			os.Exit(1)
		}
		ui.PrintSuccess("Credentials removed: " + args[0])
		return
	}

	all, err := manager.List()
	if err != nil || len(all) == 0 {
		ui.PrintError("No stored credentials found")
		return
	}

	fmt.Println("Select credentials to remove:")
	for i, creds := range all {
		fmt.Printf("  %d. %s\n", i+1, creds.Name)
	}
	fmt.Printf("  %d. Remove all\n", len(all)+1)
	fmt.Printf("  0. Cancel\n\n")

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Choice: ")
	input, _ := reader.ReadString('\n')

	var choice int
	fmt.Sscanf(strings.TrimSpace(input), "%d", &choice)

	switch {
	case choice == 0:
		return
	case choice == len(all)+1:
		fmt.Print("Remove ALL credentials? This cannot be undone! (yes/N): ")
		confirm, _ := reader.ReadString('\n')
		if strings.TrimSpace(confirm) != "yes" {
			return
		}
		if err := manager.DeleteAll(); err != nil {
			ui.PrintError("Failed to remove all credentials", err.Error())
			os.Exit(1)
		}
		ui.PrintSuccess("All credentials removed")
	case choice > 0 && choice <= len(all):
		name := all[choice-1].Name
		if err := manager.Delete(name); err != nil {
			ui.PrintError("Failed to remove credentials", err.Error())
			os.Exit(1)
		}
		ui.PrintSuccess("Credentials removed: " + name)
	default:
		ui.PrintError("Invalid choice")
		os.Exit(1)
	}
}

func runList(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}

	all, err := manager.List()
	if err != nil {
		ui.PrintError("Failed to list credentials", err.Error())
		os.Exit(1)
	}

	if len(all) == 0 {
		ui.PrintInfo("No stored credentials", "Use 'twitgather auth login' to add a set")
		return
	}

	ui.PrintHighlight("Stored Credentials")
	fmt.Println()

	for i, creds := range all {
		s := auth.SanitizeCredentials(creds)
		fmt.Printf("%d. Name: %s\n", i+1, s.Name)
		if s.ConsumerKey != "" {
			fmt.Printf("   Consumer Key: %s\n", s.ConsumerKey)
		}
		if s.AccessToken != "" {
			fmt.Printf("   Access Token: %s\n", s.AccessToken)
		}
		if s.BearerToken != "" {
			fmt.Printf("   Bearer Token: %s\n", s.BearerToken)
		}
		if !s.LastModified.IsZero() {
			fmt.Printf("   Last Modified: %s\n", s.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
}

// readPassword reads a secret from stdin without echoing when stdin is a
// terminal
func readPassword(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
