// Package llm provides the AI classifier used as the last categorization
// strategy. It talks to Gemini or any OpenAI-compatible endpoint through the
// Completer interface, with rate limiting, response caching and provider
// fallback.
package llm
