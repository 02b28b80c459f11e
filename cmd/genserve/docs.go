package main

// General API documentation for swaggo. Run `swag init -g cmd/genserve/docs.go -o internal/httpapi/docs` to regenerate.
//
// @title           genserve API
// @version         1.0
// @description     HTTP API for queued local LLM text generation.
//
// @contact.name   genserve maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
