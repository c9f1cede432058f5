package conversation

import (
	"fmt"
	"strings"

	"github.com/serviya/platform/internal/storage"
)

// User-facing texts. Everything the bot says lives here so the handlers
// stay readable and the copy stays consistent.
const (
	msgInitialPrompt = "👋 ¿Qué servicio necesitas hoy? Por ejemplo: *necesito un plomero en Quito*."

	msgInactivityNotice = "🕒 Tu sesión anterior expiró por inactividad. Empecemos de nuevo."

	msgResetDone = "🔄 Sesión reiniciada. Borré tu ciudad y tu autorización de datos."

	msgServiceNotRecognized = "🤔 No identifiqué el servicio que necesitas. Descríbelo con otras palabras, por ejemplo: *electricista para un cortocircuito*."

	msgUnknownCity = "🤔 No reconozco esa ciudad. Dime una ciudad de Ecuador, por ejemplo *Quito*, *Guayaquil* o *Cuenca*."

	msgSearchingAck = "⏳ *Estoy confirmando disponibilidad…*"

	msgStillSearching = "⏳ Sigo consultando la disponibilidad de los proveedores, dame unos segundos..."

	msgAlmostReady = "✅ Ya hay proveedores confirmando. Te paso la lista en un momento..."

	msgGenericRetry = "😅 Algo no salió bien de mi lado. ¿Puedes decirme de nuevo qué necesitas?"

	msgFarewell = "¡Gracias por usar ServiYa! 👋 Escríbeme cuando necesites otro servicio."

	msgSelectionInvalid = "Responde con el número del proveedor que prefieras, por ejemplo *1*."
)

func msgAskCity(service string) string {
	return fmt.Sprintf("📍 ¿En qué ciudad necesitas el servicio de *%s*?", service)
}

func msgSearchingProgress(service, city string) string {
	return fmt.Sprintf("🔍 Buscando *%s* en *%s*...", service, city)
}

func msgFoundCount(n int) string {
	if n == 0 {
		return "😕 No encontré proveedores para ese servicio en tu ciudad."
	}
	if n == 1 {
		return "✅ Encontré 1 proveedor. Consultando su disponibilidad..."
	}
	return fmt.Sprintf("✅ Encontré %d proveedores. Consultando su disponibilidad...", n)
}

func msgNoneAvailable() string {
	return "😕 En este momento ningún proveedor confirmó disponibilidad."
}

// msgProviderList renders the numbered result list the client picks from.
func msgProviderList(providers []storage.Provider) string {
	var b strings.Builder
	b.WriteString("🎉 *¡Buenas noticias!* Estos proveedores están disponibles ahora:\n\n")
	for i, p := range providers {
		fmt.Fprintf(&b, "%d. *%s*", i+1, p.DisplayName())
		if p.Profession != "" && p.Profession != p.Name {
			fmt.Fprintf(&b, " — %s", p.Profession)
		}
		if p.Rating > 0 {
			fmt.Fprintf(&b, " ⭐ %.1f", p.Rating)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nResponde con el número del proveedor que prefieras.")
	return b.String()
}

// msgProviderDetail renders one provider's card with the contact options.
func msgProviderDetail(p storage.Provider) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 *%s*\n", p.DisplayName())
	if p.Profession != "" {
		fmt.Fprintf(&b, "🛠 %s\n", p.Profession)
	}
	if len(p.Services) > 0 {
		fmt.Fprintf(&b, "📋 Servicios: %s\n", strings.Join(p.Services, ", "))
	}
	if p.City != "" {
		fmt.Fprintf(&b, "📍 %s\n", p.City)
	}
	if p.Rating > 0 {
		fmt.Fprintf(&b, "⭐ Calificación: %.1f\n", p.Rating)
	}
	b.WriteString("\n1) 📞 Contactar\n2) 🔙 Ver la lista\n3) ❌ Salir")
	return b.String()
}

func msgConnection(p storage.Provider) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🤝 ¡Listo! Le avisé a *%s* que necesitas su servicio.", p.DisplayName())
	if p.Phone != "" {
		fmt.Fprintf(&b, "\n📱 También puedes escribirle directamente al %s.", p.Phone)
	}
	b.WriteString("\n\nCuando terminen, cuéntame cómo te fue. 🙌")
	return b.String()
}

// Confirm-new-search prompts. The numbering is part of the contract with
// the confirm handler: option 2 changes meaning depending on which extras
// are enabled.
func msgConfirmPrompt(title string, includeCityOption, hasProviders bool) string {
	if title == "" {
		title = "¿Quieres que busque de nuevo?"
	}
	var b strings.Builder
	b.WriteString(title + "\n\n1) 🔁 Nueva búsqueda\n")
	switch {
	case includeCityOption:
		b.WriteString("2) 📍 Cambiar de ciudad\n")
	case hasProviders:
		b.WriteString("2) 👥 Ver otros proveedores\n")
	default:
		b.WriteString("2) ❌ No, gracias\n")
	}
	if includeCityOption || hasProviders {
		b.WriteString("3) ❌ Salir")
	}
	return strings.TrimRight(b.String(), "\n")
}

func confirmButtons(includeCityOption, hasProviders bool) []string {
	buttons := []string{"1) 🔁 Nueva búsqueda"}
	switch {
	case includeCityOption:
		buttons = append(buttons, "2) 📍 Cambiar de ciudad")
	case hasProviders:
		buttons = append(buttons, "2) 👥 Ver otros proveedores")
	default:
		buttons = append(buttons, "2) ❌ No, gracias")
	}
	if includeCityOption || hasProviders {
		buttons = append(buttons, "3) ❌ Salir")
	}
	return buttons
}
