package docs

import _ "embed"

//go:embed outreach-api.openapi.yaml
var embeddedOutreachOpenAPI []byte

//go:embed swagger.html
var embeddedOutreachSwaggerHTML []byte

// OutreachOpenAPI holds the OpenAPI spec for the outreach API.
var OutreachOpenAPI = embeddedOutreachOpenAPI

// OutreachSwaggerHTML holds the Swagger UI page.
var OutreachSwaggerHTML = embeddedOutreachSwaggerHTML
