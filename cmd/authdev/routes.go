package main

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const (
	green      = "\033[32m"
	blue       = "\033[34m"
	cyan       = "\033[36m"
	yellow     = "\033[33m"
	magenta    = "\033[35m"
	gray       = "\033[90m"
	resetColor = "\033[0m"
)

var methodColors = map[string]string{
	"GET":    green,
	"POST":   blue,
	"PUT":    cyan,
	"DELETE": yellow,
	"PATCH":  magenta,
}

func logRoutes(handler http.Handler) {
	routes, ok := handler.(chi.Routes)
	if !ok {
		return
	}
	err := chi.Walk(routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		log.Info().Msg(formatRoute(method, route))
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to list routes")
	}
}

func formatRoute(method, path string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = gray
	}
	return fmt.Sprintf("[%-19s] %s", color+paddedMethod+resetColor, path)
}
