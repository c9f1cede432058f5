package nlp

// serviceEntry binds a canonical service name to the normalized phrases that
// imply it. Order matters: extraction scans entries top to bottom and the
// first hit wins.
type serviceEntry struct {
	Canonical string
	Synonyms  []string
}

// CommonServices are the canonical service terms the marketplace indexes.
var CommonServices = []string{
	"plomero",
	"electricista",
	"cerrajero",
	"carpintero",
	"pintor",
	"albanil",
	"mecanico",
	"jardinero",
	"tecnico",
	"limpieza",
	"soldador",
	"vidriero",
	"fumigador",
	"mudanza",
	"costurera",
	"peluquero",
}

var serviceSynonyms = []serviceEntry{
	{Canonical: "plomero", Synonyms: []string{
		"fontanero", "gasfitero", "gasfiteria", "fuga de agua", "fuga",
		"tuberia", "tuberias", "caneria", "canerias", "destapar",
		"inodoro tapado", "bano tapado", "grifo", "llave de agua", "calefon",
	}},
	{Canonical: "electricista", Synonyms: []string{
		"corto circuito", "cortocircuito", "cableado", "enchufe", "breaker",
		"instalacion electrica", "apagon", "se fue la luz", "luz electrica",
		"medidor de luz", "foco",
	}},
	{Canonical: "cerrajero", Synonyms: []string{
		"cerradura", "candado", "chapa", "me quede afuera", "copia de llaves",
		"llave rota", "puerta trabada",
	}},
	{Canonical: "carpintero", Synonyms: []string{
		"ebanista", "mueble", "muebles", "puerta de madera", "closet",
		"anaquel", "repisa",
	}},
	{Canonical: "pintor", Synonyms: []string{
		"pintura", "pintar", "pintada", "empaste",
	}},
	{Canonical: "albanil", Synonyms: []string{
		"construccion", "obra", "pared", "mamposteria", "maestro de obra",
		"enlucido", "losa",
	}},
	{Canonical: "mecanico", Synonyms: []string{
		"carro danado", "auto danado", "vehiculo", "taller mecanico",
		"mecanica", "moto danada",
	}},
	{Canonical: "jardinero", Synonyms: []string{
		"jardin", "jardineria", "cesped", "poda", "podar",
	}},
	{Canonical: "tecnico", Synonyms: []string{
		"refrigeradora", "lavadora", "secadora", "electrodomestico",
		"computadora", "laptop", "impresora", "aire acondicionado",
	}},
	{Canonical: "limpieza", Synonyms: []string{
		"limpiar", "aseo", "empleada domestica", "limpieza profunda",
	}},
	{Canonical: "soldador", Synonyms: []string{
		"soldadura", "soldar", "reja", "puerta metalica",
	}},
	{Canonical: "vidriero", Synonyms: []string{
		"vidrio roto", "vidrios", "ventana rota", "mampara",
	}},
	{Canonical: "fumigador", Synonyms: []string{
		"fumigacion", "fumigar", "plagas", "cucarachas", "termitas",
	}},
	{Canonical: "mudanza", Synonyms: []string{
		"mudarme", "flete", "trasteo", "camioneta para mudanza",
	}},
	{Canonical: "costurera", Synonyms: []string{
		"costura", "coser", "arreglo de ropa", "sastre",
	}},
	{Canonical: "peluquero", Synonyms: []string{
		"peluqueria", "corte de cabello", "barbero",
	}},
}

// cityEntry binds the display form of an Ecuadorian city to its normalized
// synonyms and common misspellings.
type cityEntry struct {
	Canonical string
	Synonyms  []string
}

var citySynonyms = []cityEntry{
	{Canonical: "Quito", Synonyms: []string{"kito", "uio", "quito ecuador", "capital"}},
	{Canonical: "Guayaquil", Synonyms: []string{"gye", "guayakil", "guayas", "guayaqui"}},
	{Canonical: "Cuenca", Synonyms: []string{"cueca", "cuemca", "cuenca ecuador"}},
	{Canonical: "Santo Domingo", Synonyms: []string{"santo domingo de los tsachilas", "sto domingo"}},
	{Canonical: "Machala", Synonyms: []string{"machala el oro"}},
	{Canonical: "Duran", Synonyms: []string{"eloy alfaro"}},
	{Canonical: "Manta", Synonyms: []string{"manta manabi"}},
	{Canonical: "Portoviejo", Synonyms: []string{"portoviejo manabi"}},
	{Canonical: "Loja", Synonyms: []string{"loja ecuador"}},
	{Canonical: "Ambato", Synonyms: []string{"anbato"}},
	{Canonical: "Esmeraldas", Synonyms: []string{"esmeralda"}},
	{Canonical: "Riobamba", Synonyms: []string{"riobanba"}},
	{Canonical: "Quevedo", Synonyms: []string{"quebedo"}},
	{Canonical: "Ibarra", Synonyms: []string{"ivarra"}},
	{Canonical: "Latacunga", Synonyms: []string{}},
	{Canonical: "Babahoyo", Synonyms: []string{"bababoyo"}},
	{Canonical: "Tulcan", Synonyms: []string{}},
}

// Greetings open a conversation without stating a need.
var Greetings = []string{
	"hola", "buenas", "buenos dias", "buenas tardes", "buenas noches",
	"saludos", "que tal", "hey", "ola", "hello", "hi", "alo",
}

// ResetKeywords force-clear the flow, the stored city and the consent flag.
var ResetKeywords = []string{
	"reiniciar", "reset", "resetear", "nueva busqueda", "empezar de nuevo",
	"comenzar de nuevo", "borrar todo",
}

var AffirmativeWords = []string{
	"si", "claro", "ok", "okay", "dale", "listo", "bueno", "por supuesto",
	"de acuerdo", "correcto", "afirmativo", "sip", "yes", "acepto",
}

var NegativeWords = []string{
	"no", "nop", "nunca", "jamas", "negativo", "para nada", "no gracias",
	"rechazo", "no acepto",
}

// cityLookup maps every canonical form and synonym (canonicalized) to the
// display form. Built once at init.
var cityLookup = func() map[string]string {
	m := make(map[string]string, len(citySynonyms)*3)
	for _, entry := range citySynonyms {
		m[Canonical(entry.Canonical)] = entry.Canonical
		for _, syn := range entry.Synonyms {
			m[Canonical(syn)] = entry.Canonical
		}
	}
	return m
}()

// KnownCities returns the canonical display names, in table order.
func KnownCities() []string {
	out := make([]string, 0, len(citySynonyms))
	for _, entry := range citySynonyms {
		out = append(out, entry.Canonical)
	}
	return out
}

// IsKnownCity reports whether the display form is one of the canonical
// cities.
func IsKnownCity(city string) bool {
	_, ok := cityLookup[Canonical(city)]
	return ok
}
