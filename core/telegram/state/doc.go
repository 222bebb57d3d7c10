// Package state provides a lightweight per-user session store for Telegram bots.
// It is domain-agnostic: the conversation data type is a type parameter.
package state
