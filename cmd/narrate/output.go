package main

import (
	"github.com/fatih/color"

	"github.com/lexiqai/narrator/internal/narrative"
)

var (
	colorTitle   = color.New(color.FgCyan, color.Bold)
	colorError   = color.New(color.FgRed, color.Bold)
	colorSuccess = color.New(color.FgGreen)
	colorInfo    = color.New(color.FgBlue)
	colorWarning = color.New(color.FgYellow)
	colorMuted   = color.New(color.Faint)
)

var roleColors = map[narrative.VoiceRole]*color.Color{
	narrative.RoleNarrator:   color.New(color.FgWhite),
	narrative.RoleNPC:        color.New(color.FgMagenta, color.Bold),
	narrative.RoleInnerVoice: color.New(color.FgCyan, color.Italic),
	narrative.RoleJudge:      color.New(color.FgYellow, color.Bold),
}

func roleColor(role narrative.VoiceRole) *color.Color {
	if c, ok := roleColors[role]; ok {
		return c
	}
	return colorInfo
}
