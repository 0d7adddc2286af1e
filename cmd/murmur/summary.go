package main

import (
	"fmt"
	"io"

	"github.com/MrWong99/murmur/internal/config"
)

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        murmur startup summary         ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printRow(w, "STT fallbacks", fmt.Sprint(len(cfg.Providers.STTFallbacks)))
	printRow(w, "History", string(cfg.History.Backend))
	printRow(w, "Chat reply", replyMode(cfg))
	printRow(w, "Group voice", groupMode(cfg))
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow(w, "Listen addr", "(disabled)")
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func replyMode(cfg *config.Config) string {
	switch {
	case cfg.Providers.LLM.Name == "" || !cfg.ChatReply.EnableChatReply:
		return "off"
	case cfg.ChatReply.EnableProbabilisticReply:
		return fmt.Sprintf("%.0f%% of messages", cfg.ChatReply.ReplyProbability*100)
	default:
		return "always"
	}
}

func groupMode(cfg *config.Config) string {
	switch {
	case !cfg.GroupVoice.EnableRecognition:
		return "off"
	case cfg.GroupVoice.EnableReply:
		return "transcribe + reply"
	default:
		return "transcribe"
	}
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(w, kind, value)
}

func printRow(w io.Writer, label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-14s  : %-19s ║\n", label, value)
}
