// Package dispatch maps decoded request actions onto their handlers.
// Nothing escapes the dispatcher boundary as an error: argument
// problems, driver failures and unknown actions all come back as
// {success: false, value: description} responses so the connection can
// keep serving.
package dispatch
