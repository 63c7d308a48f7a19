package cmd

import (
	"fmt"
	"strings"

	"ara/core"

	"github.com/fatih/color"
)

// renderProjectsTable displays projects in a formatted table
func renderProjectsTable(projects []core.Project) {
	if len(projects) == 0 {
		warningColor.Println("No projects yet")
		return
	}

	headerColor.Println("PROJECTS")
	headerColor.Println(strings.Repeat("=", 70))
	fmt.Printf("%-6s %-20s %-32s %-8s\n", "ID", "Code", "Name", "Default")
	fmt.Println(strings.Repeat("-", 70))

	for _, p := range projects {
		fmt.Printf("%-6d %-20s %-32s %-8s\n", p.ID, p.Code, truncate(p.Name, 32), formatBool(p.DefaultAtStartup))
	}

	fmt.Println(strings.Repeat("=", 70))
}

// renderUsersTable displays users with their profile and scopes
func renderUsersTable(users []core.User) {
	if len(users) == 0 {
		warningColor.Println("No users yet")
		return
	}

	headerColor.Println("USERS")
	headerColor.Println(strings.Repeat("=", 100))
	fmt.Printf("%-20s %-30s %-13s %s\n", "Login", "Email", "Profile", "Scopes")
	fmt.Println(strings.Repeat("-", 100))

	for _, u := range users {
		fmt.Printf("%-20s %-30s %-13s %s\n",
			truncate(u.Login, 20), truncate(u.Email, 30), formatProfile(u.Profile), formatScopes(u.Scopes))
	}

	fmt.Println(strings.Repeat("=", 100))
}

func formatProfile(p core.UserProfile) string {
	switch p {
	case core.ProfileSuperAdmin:
		return color.New(color.FgRed).Sprintf("%-13s", p)
	case core.ProfileAuditor:
		return color.New(color.FgYellow).Sprintf("%-13s", p)
	default:
		return fmt.Sprintf("%-13s", p)
	}
}

// formatScopes renders scopes as code:ROLE pairs
func formatScopes(scopes []core.ScopeAssignment) string {
	if len(scopes) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(scopes))
	for _, s := range scopes {
		parts = append(parts, s.ProjectCode+":"+string(s.Role))
	}
	return strings.Join(parts, ", ")
}

func formatBool(b bool) string {
	if b {
		return color.New(color.FgGreen).Sprint("Yes")
	}
	return "No"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
