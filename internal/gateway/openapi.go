package gateway

import "github.com/go-openapi/spec"

func buildOpenAPISpec() ([]byte, error) {
	sw := spec.Swagger{
		SwaggerProps: spec.SwaggerProps{
			Swagger:  "2.0",
			BasePath: "/",
			Info: &spec.Info{InfoProps: spec.InfoProps{
				Title:       "coinfeed API",
				Description: "Cached cryptocurrency market data, chart streaming and a personal portfolio ledger",
				Version:     "1.0.0",
			}},
			Consumes: []string{"application/json"},
			Produces: []string{"application/json"},
			SecurityDefinitions: spec.SecurityDefinitions{
				"username": spec.APIKeyAuth("X-Username", "header"),
				"totp":     spec.APIKeyAuth("X-TOTP", "header"),
			},
			Paths: &spec.Paths{Paths: map[string]spec.PathItem{
				"/coins":                    {PathItemProps: spec.PathItemProps{Get: listCoinsOperation()}},
				"/coins/{slug}":             {PathItemProps: spec.PathItemProps{Get: coinDetailOperation()}},
				"/coins/{slug}/chart":       {PathItemProps: spec.PathItemProps{Get: chartOperation()}},
				"/auth/register":            {PathItemProps: spec.PathItemProps{Post: registerOperation()}},
				"/auth/me":                  {PathItemProps: spec.PathItemProps{Get: secured(spec.NewOperation("me").WithSummary("Current user").RespondsWith(200, schemaResponse("User", "#/definitions/User")))}},
				"/portfolio/summary":        {PathItemProps: spec.PathItemProps{Get: secured(spec.NewOperation("portfolioSummary").WithSummary("Holdings valued at current prices").WithTags("portfolio").RespondsWith(200, arrayResponse("Holdings", "#/definitions/Holding")).RespondsWith(502, schemaResponse("Price lookup failed", "#/definitions/ErrorResponse")))}},
				"/portfolio/transactions":   {PathItemProps: spec.PathItemProps{Get: secured(spec.NewOperation("listTransactions").WithTags("portfolio").RespondsWith(200, arrayResponse("Transactions", "#/definitions/Transaction"))), Post: createTransactionOperation()}},
				"/portfolio/transactions/{id}": {PathItemProps: spec.PathItemProps{Delete: deleteTransactionOperation()}},
				"/portfolio/favorites": {PathItemProps: spec.PathItemProps{
					Get:    secured(spec.NewOperation("listFavorites").WithTags("portfolio").RespondsWith(200, arrayResponse("Favorites", "#/definitions/Favorite"))),
					Post:   favoriteOperation("addFavorite", 201),
					Delete: favoriteOperation("removeFavorite", 204),
				}},
			}},
			Definitions: apiDefinitions(),
		},
	}
	return sw.MarshalJSON()
}

func listCoinsOperation() *spec.Operation {
	refresh := spec.QueryParam("refresh").Typed("boolean", "").WithDescription("Drop the cached listing before fetching.")
	return spec.NewOperation("listCoins").
		WithSummary("Top coins by market cap").
		WithTags("market").
		AddParam(refresh).
		RespondsWith(200, arrayResponse("Coin listing", "#/definitions/CoinSummary")).
		RespondsWith(502, schemaResponse("Provider failure", "#/definitions/ErrorResponse"))
}

func coinDetailOperation() *spec.Operation {
	return spec.NewOperation("coinDetail").
		WithSummary("Flattened coin detail").
		WithTags("market").
		AddParam(spec.PathParam("slug").Typed("string", "")).
		RespondsWith(200, schemaResponse("Coin detail", "#/definitions/CoinDetail")).
		RespondsWith(502, schemaResponse("Provider failure", "#/definitions/ErrorResponse"))
}

func chartOperation() *spec.Operation {
	interval := spec.QueryParam("interval").Typed("string", "").WithDescription("Lookback and cache class.")
	interval.Default = "daily"
	interval.Enum = []any{"5min", "hourly", "daily"}

	kind := spec.QueryParam("kind").Typed("string", "")
	kind.Default = "line"
	kind.Enum = []any{"line", "candlestick"}

	return spec.NewOperation("coinChart").
		WithSummary("Price series for one coin").
		WithDescription("For a live feed connect a WebSocket to /ws/crypto/{slug} and send {\"interval\",\"kind\"} messages to switch series.").
		WithTags("market").
		AddParam(spec.PathParam("slug").Typed("string", "")).
		AddParam(interval).
		AddParam(kind).
		RespondsWith(200, schemaResponse("Series", "#/definitions/Series")).
		RespondsWith(400, schemaResponse("Bad interval or kind", "#/definitions/ErrorResponse")).
		RespondsWith(502, schemaResponse("Provider failure", "#/definitions/ErrorResponse"))
}

func registerOperation() *spec.Operation {
	return spec.NewOperation("register").
		WithSummary("Create a user").
		WithDescription("Returns an otpauth:// URL; later requests authenticate with X-Username and the current code in X-TOTP.").
		WithTags("auth").
		AddParam(spec.BodyParam("body", spec.RefSchema("#/definitions/RegisterRequest"))).
		RespondsWith(201, schemaResponse("Registered", "#/definitions/RegisterResponse")).
		RespondsWith(400, schemaResponse("Invalid username", "#/definitions/ErrorResponse")).
		RespondsWith(409, schemaResponse("Username taken", "#/definitions/ErrorResponse"))
}

func createTransactionOperation() *spec.Operation {
	return secured(spec.NewOperation("createTransaction").
		WithTags("portfolio").
		AddParam(spec.BodyParam("body", spec.RefSchema("#/definitions/TransactionRequest"))).
		RespondsWith(201, schemaResponse("Created", "#/definitions/Transaction")).
		RespondsWith(400, schemaResponse("Invalid transaction", "#/definitions/ErrorResponse")))
}

func deleteTransactionOperation() *spec.Operation {
	return secured(spec.NewOperation("deleteTransaction").
		WithTags("portfolio").
		AddParam(spec.PathParam("id").Typed("string", "uuid")).
		RespondsWith(204, spec.NewResponse().WithDescription("Deleted")).
		RespondsWith(404, schemaResponse("No such transaction", "#/definitions/ErrorResponse")))
}

func favoriteOperation(id string, status int) *spec.Operation {
	op := spec.NewOperation(id).
		WithTags("portfolio").
		AddParam(spec.BodyParam("body", spec.RefSchema("#/definitions/FavoriteRequest")))
	if status == 201 {
		op.RespondsWith(201, schemaResponse("Added", "#/definitions/Favorite")).
			RespondsWith(409, schemaResponse("Already a favorite", "#/definitions/ErrorResponse"))
	} else {
		op.RespondsWith(204, spec.NewResponse().WithDescription("Removed")).
			RespondsWith(404, schemaResponse("Not a favorite", "#/definitions/ErrorResponse"))
	}
	return secured(op)
}

func secured(op *spec.Operation) *spec.Operation {
	op.Security = []map[string][]string{{"username": {}, "totp": {}}}
	return op.RespondsWith(401, schemaResponse("Missing or wrong credentials", "#/definitions/ErrorResponse"))
}

func apiDefinitions() spec.Definitions {
	str, num, integer := *spec.StringProperty(), *spec.Float64Property(), *spec.Int64Property()
	return spec.Definitions{
		"ErrorDetail": objectSchema(map[string]spec.Schema{
			"code":    str,
			"message": str,
		}, "code", "message"),
		"ErrorResponse": objectSchema(map[string]spec.Schema{"error": *spec.RefSchema("#/definitions/ErrorDetail")}, "error"),
		"CoinSummary": objectSchema(map[string]spec.Schema{
			"name":            str,
			"image":           str,
			"symbol":          str,
			"current_price":   num,
			"market_cap":      num,
			"market_cap_rank": integer,
		}),
		"CoinDetail": objectSchema(map[string]spec.Schema{
			"name":                        str,
			"image":                       str,
			"symbol":                      str,
			"current_price":               withDescription(spec.Schema{}, "number, or \"N/A\" when the provider omits it"),
			"rank":                        spec.Schema{},
			"price_change_percentage_24h": spec.Schema{},
			"market_cap":                  spec.Schema{},
			"total_volume":                spec.Schema{},
			"total_supply":                spec.Schema{},
			"max_supply":                  spec.Schema{},
			"circulating_supply":          spec.Schema{},
			"fdv":                         spec.Schema{},
			"high_24h":                    spec.Schema{},
			"low_24h":                     spec.Schema{},
			"ath":                         spec.Schema{},
		}),
		"ChartPoint": objectSchema(map[string]spec.Schema{
			"timestamp": withDescription(integer, "milliseconds since epoch"),
			"price":     withDescription(num, "line series only"),
			"open":      num,
			"high":      num,
			"low":       num,
			"close":     num,
		}, "timestamp"),
		"Series": objectSchema(map[string]spec.Schema{
			"type":     str,
			"slug":     str,
			"interval": str,
			"kind":     str,
			"data":     *spec.ArrayProperty(spec.RefSchema("#/definitions/ChartPoint")),
		}, "slug", "interval", "kind", "data"),
		"User": objectSchema(map[string]spec.Schema{
			"id":         str,
			"username":   str,
			"created_at": *spec.DateTimeProperty(),
		}),
		"RegisterRequest":  objectSchema(map[string]spec.Schema{"username": str}, "username"),
		"RegisterResponse": objectSchema(map[string]spec.Schema{"user": *spec.RefSchema("#/definitions/User"), "otpauth_url": str}),
		"TransactionRequest": objectSchema(map[string]spec.Schema{
			"coin_id":   str,
			"amount":    withDescription(str, "decimal"),
			"price_usd": withDescription(str, "decimal"),
			"fee":       withDescription(str, "decimal, optional"),
			"type":      enumSchema("buy", "sell", "transfer_in", "transfer_out"),
		}, "coin_id", "amount", "price_usd", "type"),
		"Transaction": objectSchema(map[string]spec.Schema{
			"id":        str,
			"user_id":   str,
			"coin_id":   str,
			"amount":    str,
			"price_usd": str,
			"fee":       str,
			"type":      str,
			"timestamp": *spec.DateTimeProperty(),
		}),
		"FavoriteRequest": objectSchema(map[string]spec.Schema{"coin_id": str}, "coin_id"),
		"Favorite": objectSchema(map[string]spec.Schema{
			"id":         str,
			"user_id":    str,
			"coin_id":    str,
			"created_at": *spec.DateTimeProperty(),
		}),
		"Holding": objectSchema(map[string]spec.Schema{
			"coin_id":       str,
			"amount":        num,
			"total_spent":   num,
			"current_price": num,
			"current_value": num,
			"profit_loss":   num,
		}),
	}
}

func objectSchema(props map[string]spec.Schema, required ...string) spec.Schema {
	return spec.Schema{SchemaProps: spec.SchemaProps{Type: []string{"object"}, Properties: props, Required: required}}
}

func enumSchema(values ...any) spec.Schema {
	s := *spec.StringProperty()
	s.Enum = values
	return s
}

func withDescription(s spec.Schema, desc string) spec.Schema {
	s.Description = desc
	return s
}

func schemaResponse(description, ref string) *spec.Response {
	return spec.NewResponse().WithDescription(description).WithSchema(spec.RefSchema(ref))
}

func arrayResponse(description, itemRef string) *spec.Response {
	return spec.NewResponse().WithDescription(description).WithSchema(spec.ArrayProperty(spec.RefSchema(itemRef)))
}
