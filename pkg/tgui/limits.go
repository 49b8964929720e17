package tgui

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
// NOTE: This is the length of the full string: "scope:action:payload".
const MaxCallbackDataLen = 64

// MaxMessageLen is Telegram's hard limit for a single text message.
const MaxMessageLen = 4096
