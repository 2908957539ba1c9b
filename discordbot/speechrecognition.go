package discordbot

import (
	"os"

	"krtek/etc"
	"krtek/stt"
)

// submitCapture queues a finished utterance. Every line the engine prints
// goes to the moderator, and both job files are removed afterwards.
func (bot *Bot) submitCapture(userID, path string) {
	job := &stt.Job{
		ID:        etc.NewFreshID(),
		UserID:    userID,
		AudioPath: path,
		OnText: []func(string){
			func(text string) {
				bot.hear.Debug("heard", "user", userID, "text", text)
				bot.moderator.OnTranscription(userID, text)
			},
		},
		Cleanup: bot.removeJobFile,
	}

	bot.queue.Submit(job)
}

func (bot *Bot) removeJobFile(path string) {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		bot.hear.Warn("remove job file", "path", path, "error", err)
	}
}
