package lang

const (
	It = "it"
	En = "en"
)

var messages = map[string]map[string]string{
	It: {
		"status_pending":          "In attesa",
		"status_confirmed":        "Confermato",
		"status_preparing":        "In preparazione",
		"status_ready":            "Pronto",
		"status_out_for_delivery": "In consegna",
		"status_arrived":          "Arrivato",
		"status_delivered":        "Consegnato",
		"status_cancelled":        "Annullato",
		"order_not_found":         "Ordine non trovato, controlla i tuoi dati.",
		"no_order":                "Nessun ordine in corso.",
		"toast_status_changed":    "Ordine %s: %s",
		"lookup_failed":           "Impossibile recuperare l'ordine, riprova più tardi.",
		"bot_help":                "Segui il tuo ordine con /track <numero ordine> <email>.",
		"bot_track_usage":         "Uso: /track ORD-1001 nome@esempio.it",
		"bot_language_usage":      "Uso: /language it oppure /language en",
		"bot_language_set":        "Lingua impostata.",
		"card_order":              "Ordine %s",
		"card_status":             "Stato: %s",
		"card_total":              "Totale: € %s",
		"search_throttled":        "Troppi tentativi, riprova tra %d secondi.",
	},
	En: {
		"status_pending":          "Pending",
		"status_confirmed":        "Confirmed",
		"status_preparing":        "Preparing",
		"status_ready":            "Ready",
		"status_out_for_delivery": "Out for delivery",
		"status_arrived":          "Arrived",
		"status_delivered":        "Delivered",
		"status_cancelled":        "Cancelled",
		"order_not_found":         "Order not found, check your details.",
		"no_order":                "No order is being tracked.",
		"toast_status_changed":    "Order %s: %s",
		"lookup_failed":           "Could not load the order, try again later.",
		"bot_help":                "Track your order with /track <order number> <email>.",
		"bot_track_usage":         "Usage: /track ORD-1001 name@example.com",
		"bot_language_usage":      "Usage: /language it or /language en",
		"bot_language_set":        "Language updated.",
		"card_order":              "Order %s",
		"card_status":             "Status: %s",
		"card_total":              "Total: € %s",
		"search_throttled":        "Too many attempts, try again in %d seconds.",
	},
}

// T returns the message for key in langCode, falling back to Italian and then
// to the key itself.
func T(langCode, key string) string {
	if m, ok := messages[langCode]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	if s, ok := messages[It][key]; ok {
		return s
	}
	return key
}

// Supported reports whether langCode has its own table.
func Supported(langCode string) bool {
	_, ok := messages[langCode]
	return ok
}
