package handlers

const (
	WelcomeMessage  = "Welcome to Solana Monitor Bot API!"
	NoUptimeMessage = "No uptime URL configured"
	RateLimited     = "Too many requests"
)
