package auth

import (
	"fmt"
	"strings"
)

// ShowTokenGuide prints where to find the API secrets twitgather needs
func ShowTokenGuide() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("TWITTER API CREDENTIALS")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	fmt.Println("STEP 1: Open the developer portal")
	fmt.Println("   - Go to https://developer.twitter.com/en/portal/dashboard")
	fmt.Println("   - Select (or create) a project and an app")
	fmt.Println()

	fmt.Println("STEP 2: Open 'Keys and tokens' for the app")
	fmt.Println()

	fmt.Println("STEP 3: Copy the values each mode needs:")
	fmt.Println("   ┌──────────────────────┬────────────────────────────────────────┐")
	fmt.Println("   │ Value                │ Used by                                │")
	fmt.Println("   ├──────────────────────┼────────────────────────────────────────┤")
	fmt.Println("   │ API Key              │ archive (consumer key)                 │")
	fmt.Println("   │ API Key Secret       │ archive (consumer secret)              │")
	fmt.Println("   │ Access Token         │ archive                                │")
	fmt.Println("   │ Access Token Secret  │ archive                                │")
	fmt.Println("   │ Bearer Token         │ stream                                 │")
	fmt.Println("   └──────────────────────┴────────────────────────────────────────┘")
	fmt.Println()

	fmt.Println("TIPS:")
	fmt.Println("   • Regenerating a key invalidates the old one")
	fmt.Println("   • The archive search is limited to 180 requests per 15 minutes")
	fmt.Println("   • Only one filtered stream connection per app is allowed")
	fmt.Println()

	fmt.Println("SECURITY WARNING:")
	fmt.Println("   • These secrets act on behalf of your account")
	fmt.Println("   • NEVER commit them to a repository")
	fmt.Println("   • Store them with 'twitgather auth login' (keychain or encrypted file)")
	fmt.Println()
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()
}

// ShowQuickTokenGuide shows a condensed version for experienced users
func ShowQuickTokenGuide() {
	fmt.Println("\nQuick Guide: developer portal → your app → Keys and tokens")
	fmt.Println("   archive needs: API key + secret, access token + secret")
	fmt.Println("   stream needs:  bearer token")
}
