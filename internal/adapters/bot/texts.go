package bot

// Тексты ответов участнику.
const (
	textWelcome         = "Добро пожаловать! Мы будем присылать вам полезные материалы."
	textOnboardingIntro = "Добро пожаловать! Ответьте, пожалуйста, на несколько вопросов."
	textJoinIntro       = "Спасибо за интерес к сообществу! Ответьте на несколько вопросов, чтобы продолжить."
	textCompleted       = "✅ Спасибо, анкета заполнена! Добро пожаловать в сообщество."
	textNoQuestion      = "Сейчас вопросов нет. Используйте /start, чтобы начать."
	textUseButtons      = "Выберите вариант кнопкой под вопросом."
	textEmptyAnswer     = "Ответ не может быть пустым."
	textUnknownOption   = "Такого варианта нет, выберите один из предложенных."
	textRequired        = "Этот вопрос обязателен, пропустить его нельзя."
	textStaleQuestion   = "Этот вопрос уже не актуален."
	textStorageError    = "Не удалось сохранить данные, попробуйте ещё раз позже."
	textUnknownCommand  = "Неизвестная команда. Используйте /start"
	textViewedNotice    = "Отмечено как просмотренное ✓"
	textMenuLink        = "Открыть: %s"
	textMenuChoose      = "Выберите вариант:"
	textMenuBroken      = "Этот пункт меню сейчас недоступен."
)
