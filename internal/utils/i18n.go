package utils

// Minimal server-side i18n for fixed keys.
// UI strings live in the app shell; the server only words its own replies.

var translations = map[string]map[string]string{
	"en": {
		"health.ok":                "ok",
		"error.invalid":            "The request is not valid.",
		"error.not_found":          "Not found.",
		"error.conflict":           "The survey session is not in a state that allows this.",
		"error.unauthorized":       "Join a study first.",
		"error.bad_gateway":        "The upstream server returned an unexpected reply.",
		"error.fetch_failed":       "Could not download the requested document.",
		"error.store_read_failed":  "Could not read saved data.",
		"error.persistence_failed": "Could not save your data.",
		"error.internal":           "Internal error.",
	},
	"es": {
		"health.ok":                "bien",
		"error.invalid":            "La solicitud no es válida.",
		"error.not_found":          "No encontrado.",
		"error.conflict":           "La sesión de la encuesta no permite esta acción.",
		"error.unauthorized":       "Primero únase a un estudio.",
		"error.bad_gateway":        "El servidor remoto respondió de forma inesperada.",
		"error.fetch_failed":       "No se pudo descargar el documento solicitado.",
		"error.store_read_failed":  "No se pudieron leer los datos guardados.",
		"error.persistence_failed": "No se pudieron guardar sus datos.",
		"error.internal":           "Error interno.",
	},
	"zh": {
		"health.ok":                "好的",
		"error.invalid":            "请求无效。",
		"error.not_found":          "未找到。",
		"error.conflict":           "当前问卷会话状态不允许此操作。",
		"error.unauthorized":       "请先加入研究。",
		"error.bad_gateway":        "上游服务器返回了异常响应。",
		"error.fetch_failed":       "无法下载所需文档。",
		"error.store_read_failed":  "无法读取已保存的数据。",
		"error.persistence_failed": "无法保存您的数据。",
		"error.internal":           "内部错误。",
	},
}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if m, ok := translations["en"]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}
