package models

// Config is the backend-owned application configuration.
// The client reads and writes it only through the backend gateway.
type Config struct {
	BotToken   string `json:"bot_token"`
	ChatID     string `json:"chat_id"`
	SyncFolder string `json:"sync_folder"`
}
