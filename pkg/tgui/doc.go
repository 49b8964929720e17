// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Callback data helpers (scope:action:payload)
//   - A simple, safe message builder with sensible defaults
//
// Design goals:
//   - Ergonomic for services (one builder covers text + send options)
//   - Safe by default for Telegram ParseMode="HTML" (auto escaping)
//   - Bounded output: free text is truncated, lists are enumerated with an
//     explicit "and N more" suffix instead of being silently dropped
package tgui
