package email

import "fmt"

func ConfirmationMessage(displayName, link string) (string, string) {
	return "Confirm your email",
		fmt.Sprintf("Hi %s,\n\nPlease confirm your account by visiting:\n%s\n\nIf you did not sign up, ignore this message.\n", displayName, link)
}

func PasswordResetMessage(link string) (string, string) {
	return "Reset your password",
		fmt.Sprintf("A password reset was requested for your account.\n\nUse this link to choose a new password:\n%s\n\nIf you did not request it, you can ignore this message.\n", link)
}
