package wordbank

// defaultWords is the built-in pool. Room settings can widen it with
// custom words at option time.
var defaultWords = map[Category]map[Difficulty][]string{
	CategoryAnimals: {
		DifficultyEasy: {
			"cat", "dog", "fish", "bird", "cow", "pig", "duck", "frog",
			"bee", "ant", "owl", "bat",
		},
		DifficultyMedium: {
			"elephant", "giraffe", "penguin", "dolphin", "kangaroo",
			"octopus", "squirrel", "hedgehog", "raccoon", "flamingo",
		},
		DifficultyHard: {
			"chameleon", "platypus", "armadillo", "pangolin",
			"axolotl", "narwhal", "tardigrade", "quokka",
		},
	},
	CategoryFood: {
		DifficultyEasy: {
			"apple", "pizza", "bread", "egg", "cake", "milk", "rice",
			"corn", "pear", "taco",
		},
		DifficultyMedium: {
			"spaghetti", "pancake", "sandwich", "burrito", "pretzel",
			"avocado", "croissant", "dumpling", "meatball", "waffle",
		},
		DifficultyHard: {
			"ratatouille", "bruschetta", "quesadilla", "tiramisu",
			"gazpacho", "sauerkraut", "prosciutto", "macaron",
		},
	},
	CategoryObjects: {
		DifficultyEasy: {
			"chair", "table", "clock", "phone", "book", "lamp", "door",
			"key", "shoe", "cup",
		},
		DifficultyMedium: {
			"umbrella", "scissors", "telescope", "backpack", "keyboard",
			"compass", "ladder", "whistle", "magnet", "anchor",
		},
		DifficultyHard: {
			"stethoscope", "metronome", "kaleidoscope", "typewriter",
			"gramophone", "periscope", "abacus", "sundial",
		},
	},
	CategoryNature: {
		DifficultyEasy: {
			"tree", "sun", "moon", "star", "rain", "snow", "cloud",
			"leaf", "rock", "wave",
		},
		DifficultyMedium: {
			"volcano", "rainbow", "glacier", "waterfall", "tornado",
			"desert", "island", "canyon", "meadow", "lagoon",
		},
		DifficultyHard: {
			"archipelago", "stalactite", "bioluminescence", "permafrost",
			"geyser", "fjord", "aurora", "estuary",
		},
	},
	CategoryActions: {
		DifficultyEasy: {
			"run", "jump", "swim", "sing", "dance", "sleep", "eat",
			"wave", "clap", "climb",
		},
		DifficultyMedium: {
			"juggling", "fishing", "painting", "whistling", "stretching",
			"shivering", "sneezing", "balancing", "digging", "knitting",
		},
		DifficultyHard: {
			"procrastinating", "eavesdropping", "pirouetting",
			"hitchhiking", "somersaulting", "beatboxing", "moonwalking",
			"tightroping",
		},
	},
}
