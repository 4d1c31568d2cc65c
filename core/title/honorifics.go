package title

import (
	"sort"
	"sync"
)

// honorificList is the multilingual honorific inventory. Entries are stored
// lowercase; matching is case-insensitive and tolerates an optional trailing
// period for abbreviations that commonly drop it.
var honorificList = []string{
	// English
	"mr.", "mr", "mrs.", "mrs", "ms.", "ms", "miss", "mx.", "mx",
	"dr.", "dr", "prof.", "prof", "professor", "rev.", "rev", "reverend",
	"fr.", "fr", "father", "sr.", "sr", "sister", "br.", "br", "brother",
	"sir", "dame", "lord", "lady", "madam", "madame", "esq.", "esq",
	"hon.", "hon", "honorable", "capt.", "capt", "captain", "col.", "col",
	"colonel", "gen.", "gen", "general", "lt.", "lt", "lieutenant",
	"maj.", "maj", "major", "sgt.", "sgt", "sergeant", "cpl.", "cpl",
	"pvt.", "pvt", "cmdr.", "cmdr", "commander", "adm.", "adm", "admiral",
	"judge", "justice", "president", "senator", "governor", "mayor",
	"ambassador", "secretary", "chancellor", "rabbi", "imam", "sheikh",
	"bishop", "archbishop", "cardinal", "pope", "deacon", "pastor",
	"elder", "chief", "principal", "dean", "provost",
	// English (extended)
	"pres.", "pres", "gov.", "gov", "amb.", "amb", "sen.", "sen",
	"rep.", "rep", "supt.", "supt", "insp.", "insp", "inspector",
	"det.", "det", "detective", "officer", "const.", "constable",
	"fl. lt.", "wg. cdr.", "brig.", "brig", "brigadier", "vice adm.",
	"rear adm.", "lt. col.", "lt. gen.", "lt. cmdr.", "maj. gen.",
	"sgt. maj.", "master sgt.", "staff sgt.", "warrant officer",
	"midshipman", "cadet", "canon", "vicar", "curate", "prebendary",
	"archdeacon", "abbot", "abbess", "prior", "prioress", "monsignor",
	"msgr.", "msgr", "friar", "mother", "most rev.", "rt. rev.",
	"very rev.", "ven.", "ven", "venerable", "swami", "guru", "pandit",
	"mullah", "mufti", "ayatollah", "hakim", "emir", "sultan",
	"baron", "baroness", "viscount", "viscountess", "earl", "countess",
	"duke", "duchess", "marquess", "marchioness", "prince", "princess",
	"regent", "consul", "attaché", "provost marshal",
	// German
	"herr", "herrn", "frau", "fräulein", "herr dr.", "frau dr.",
	"herr prof.", "frau prof.", "herr prof. dr.", "frau prof. dr.",
	"dipl.-ing.", "dipl.-ing", "dipl.-kfm.", "mag.", "mag",
	"doktor", "doktorin", "direktor", "direktorin", "rechtsanwalt",
	"rechtsanwältin", "richter", "richterin", "pfarrer", "pfarrerin",
	"hauptmann", "oberst", "leutnant", "feldwebel", "botschafter",
	"botschafterin", "bürgermeister", "bürgermeisterin", "staatsanwalt",
	"staatsanwältin", "geh. rat", "freiherr", "freifrau", "graf",
	"gräfin", "fürst", "fürstin",
	// French
	"m.", "monsieur", "mme", "mme.", "madame", "mlle", "mlle.",
	"mademoiselle", "me", "maître", "docteur", "docteure", "professeur",
	"professeure", "père", "sœur", "frère", "abbé", "mgr", "mgr.",
	"monseigneur", "révérend", "révérende", "pasteur", "pasteure",
	"général", "générale", "colonel", "colonelle", "capitaine",
	"commandant", "commandante", "sergent", "sergente",
	"ambassadeur", "ambassadrice", "député", "députée", "sénateur",
	"sénatrice", "préfet", "préfète", "avocat", "avocate",
	"comte", "comtesse", "marquis", "marquise", "baronne",
	"duc", "vicomte", "vicomtesse",
	// Spanish
	"sr. don", "sra.", "sra", "señor", "señora", "señorita", "srta.",
	"srta", "don", "doña", "dona", "lic.", "lic", "licenciado",
	"licenciada", "ing.", "ing", "ingeniero", "ingeniera", "doctor",
	"doctora", "profesor", "profesora", "padre", "hermana", "hermano",
	"arq.", "arq", "arquitecto", "arquitecta", "abogado", "abogada",
	"magistrado", "magistrada", "alcalde", "alcaldesa", "embajador",
	"embajadora", "coronel", "teniente", "sargento", "obispo",
	"arzobispo", "reverendo", "reverenda", "fray", "sor", "excmo.",
	"excma.", "ilmo.", "ilma.",
	// Italian
	"sig.", "sig", "signor", "signore", "sig.ra", "signora", "sig.na",
	"signorina", "dott.", "dott", "dottore", "dott.ssa", "dottoressa",
	"prof.ssa", "professoressa", "avv.", "avv", "avvocato", "geom.",
	"rag.", "cav.", "onorevole",
	// Portuguese
	"senhor", "senhora", "senhorita", "dr.ª", "dra.",
	"dra", "doutor", "doutora", "eng.", "eng", "engenheiro", "engenheira",
	// Italian (extended)
	"comm.", "commendatore", "gr. uff.", "grand'ufficiale", "notaio",
	"sindaco", "sindaca", "presidente", "generale", "colonnello",
	"capitano", "tenente", "maresciallo", "vescovo", "arcivescovo",
	"monsignore", "padre", "suor", "suora", "conte", "contessa",
	"marchese", "marchesa", "barone", "baronessa", "principe",
	"principessa",
	// Portuguese (extended)
	"arquiteto", "arquiteta", "advogado", "advogada", "juiz", "juíza",
	"presidente", "general", "coronel", "capitão", "tenente",
	"sargento", "bispo", "arcebispo", "reverendo", "frei", "irmã",
	"irmão", "conde", "condessa", "barão", "baronesa", "excelentíssimo",
	"excelentíssima", "vossa excelência",
	// Dutch
	"dhr.", "dhr", "mevr.", "mevr", "mevrouw", "meneer", "mijnheer",
	"drs.", "drs", "ir.", "mr. dr.", "jhr.", "jkvr.", "dominee", "ds.",
	"pastoor", "burgemeester", "wethouder", "generaal", "kolonel",
	"kapitein", "luitenant", "sergeant", "rechter", "advocaat",
	"advocate", "notaris", "graaf", "gravin", "prins", "prinses",
	// Latvian
	"kungs", "kundze", "jaunkundze", "dr. med.", "doc.", "doc",
	"asoc. prof.", "akad.", "profesors", "profesore", "doktors",
	"doktore", "inženieris", "inženiere", "advokāts", "advokāte",
	"tiesnesis", "tiesnese", "mācītājs", "mācītāja", "ģenerālis",
	"pulkvedis", "kapteinis", "leitnants", "seržants", "bīskaps",
	"arhibīskaps", "priesteris", "māsa", "brālis",
	// Arabic (romanized plus script)
	"sayyid", "sayyida", "ustadh", "ustadha", "hajji", "hajja",
	"shaykh", "shaykha", "السيد", "السيدة", "الآنسة", "الدكتور",
	"الدكتورة", "الأستاذ", "الأستاذة", "الشيخ", "المهندس",
	// Chinese
	"先生", "女士", "小姐", "太太", "夫人", "博士", "教授", "老师",
	"医生", "大夫", "经理", "主任", "局长", "校长",
}

// dedupedHonorifics returns the honorific set with cross-language duplicates
// removed, sorted by length descending so the longest title wins a prefix
// match.
var dedupedHonorifics = sync.OnceValue(func() []string {
	seen := make(map[string]bool, len(honorificList))
	var out []string
	for _, h := range honorificList {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
})
