// Package docs provides generated OpenAPI documentation.
//
// Intake API
//
//	@title			Intake API
//	@version		1.0
//	@description	Client onboarding pipeline API for submitting sessions, tracking extraction jobs, and reviewing profile items.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/intake
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/intake/serve.go -o ./swagger --parseDependency --parseInternal
